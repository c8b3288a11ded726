package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the civil date format used in object keys, CLI flags, and the database.
const DateLayout = "2006-01-02"

// Point is a WGS84 longitude/latitude pair in degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// FireStatus is the stage of control reported by the fire feed.
type FireStatus string

const (
	StatusOutOfControl FireStatus = "Out of Control"
	StatusBeingHeld    FireStatus = "Being Held"
	StatusUnderControl FireStatus = "Under Control"
	StatusActive       FireStatus = "Active"
	StatusOut          FireStatus = "Out"
)

// IsActive reports whether the fire still burns. Every reported status other than Out counts.
func (s FireStatus) IsActive() bool {
	v := strings.TrimSpace(string(s))
	return v != "" && !strings.EqualFold(v, string(StatusOut))
}

// Fire is a single entry from the active fire feed.
type Fire struct {
	Number       string     `json:"fire_number"`
	Status       FireStatus `json:"status"`
	SizeHectares float64    `json:"size_hectares"`
	IgnitionDate time.Time  `json:"ignition_date,omitempty"`
	Location     Point      `json:"location"`
}

// Eligible reports whether the fire should be processed: active and strictly larger than the threshold.
func (f Fire) Eligible(thresholdHectares float64) bool {
	return f.Status.IsActive() && f.SizeHectares > thresholdHectares
}

// SkipReason describes why Eligible returned false, or "" when it did not.
func (f Fire) SkipReason(thresholdHectares float64) string {
	switch {
	case !f.Status.IsActive():
		return fmt.Sprintf("status %q is not active", f.Status)
	case f.SizeHectares <= thresholdHectares:
		return fmt.Sprintf("size %.1f ha does not exceed %.1f ha", f.SizeHectares, thresholdHectares)
	default:
		return ""
	}
}

// SelectCandidates returns the fires eligible for processing, in feed order.
func SelectCandidates(fires []Fire, thresholdHectares float64) []Fire {
	out := make([]Fire, 0, len(fires))
	for _, f := range fires {
		if f.Eligible(thresholdHectares) {
			out = append(out, f)
		}
	}
	return out
}

// CivilDate truncates t to midnight UTC of its UTC calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// WindowStart returns the first day of the compositing window that ends on the date of interest.
func WindowStart(dateOfInterest time.Time, days int) time.Time {
	return CivilDate(dateOfInterest).AddDate(0, 0, -days)
}
