package domain

import (
	"errors"
	"time"

	"github.com/twpayne/go-geom"
)

// SRID is the spatial reference of every geometry the service produces (WGS84).
const SRID = 4326

// ErrNoPolygons is returned when a perimeter has no polygons to persist.
var ErrNoPolygons = errors.New("no perimeter polygons")

// Scene describes the imagery request for one fire: where, at what size, and over which dates.
type Scene struct {
	Box         BoundingBox
	Width       int
	Height      int
	WindowStart time.Time
	WindowDays  int
	CloudCover  float64
}

// PerimeterRecord is one row of the perimeter table, unique per fire number and date of interest.
type PerimeterRecord struct {
	Geometry       *geom.MultiPolygon
	FireNumber     string
	DateOfInterest time.Time
	DateRange      int
	Latitude       float64
	Longitude      float64
	CloudCover     *float64
	RGBObjectKey   string
	AreaHectares   *float64
	CreateDate     time.Time
	UpdateDate     time.Time
}

// PerimeterEvent announces a persisted perimeter to downstream consumers.
type PerimeterEvent struct {
	FireNumber     string    `json:"fire_number"`
	DateOfInterest string    `json:"date_of_interest"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	DateRange      int       `json:"date_range"`
	AreaHectares   float64   `json:"area_hectares"`
	PolygonCount   int       `json:"polygon_count"`
	RGBObjectKey   string    `json:"rgb_object_key,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// Outcome classifies how processing a single fire ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// FireResult is the per-fire record of a pipeline run.
type FireResult struct {
	FireNumber   string
	Outcome      Outcome
	Reason       string
	Err          error
	AreaHectares float64
	PolygonCount int
	RGBObjectKey string
	// ArchiveErr is set when the preview upload failed but the perimeter was still processed.
	ArchiveErr error
	// OutputDir is where local copies were saved, if any.
	OutputDir string
}

// Skipped builds a skipped result.
func Skipped(fireNumber, reason string) FireResult {
	return FireResult{FireNumber: fireNumber, Outcome: OutcomeSkipped, Reason: reason}
}

// Failed builds a failed result.
func Failed(fireNumber, reason string, err error) FireResult {
	return FireResult{FireNumber: fireNumber, Outcome: OutcomeFailed, Reason: reason, Err: err}
}

// RunReport summarizes one pass over the fire feed.
type RunReport struct {
	RunID          string
	DateOfInterest time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	Considered     int
	Results        []FireResult
}

// Count returns how many results ended with the given outcome.
func (r RunReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Result returns the result for a fire number.
func (r RunReport) Result(fireNumber string) (FireResult, bool) {
	for _, res := range r.Results {
		if res.FireNumber == fireNumber {
			return res, true
		}
	}
	return FireResult{}, false
}
