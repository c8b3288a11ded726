package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

// Feature property names of the active fire layer.
const (
	PropFireNumber   = "FIRE_NUMBER"
	PropFireStatus   = "FIRE_STATUS"
	PropCurrentSize  = "CURRENT_SIZE"
	PropIgnitionDate = "IGNITION_DATE"
)

// Client reads active fire points from an ArcGIS feature service query endpoint.
type Client struct {
	queryURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a feed client for the given query URL.
func NewClient(queryURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		queryURL: queryURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchFires returns every fire the feed reports that is not out.
// Features that cannot be parsed are logged and skipped.
func (c *Client) FetchFires(ctx context.Context) ([]domain.Fire, error) {
	params := url.Values{
		"f":         {"geojson"},
		"outFields": {"*"},
		"where":     {fmt.Sprintf("%s <> '%s'", PropFireStatus, domain.StatusOut)},
	}
	sep := "?"
	if strings.Contains(c.queryURL, "?") {
		sep = "&"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL+sep+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fire feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fire feed error: status %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if fc.Error != nil {
		return nil, fmt.Errorf("fire feed error: code %d: %s", fc.Error.Code, fc.Error.Message)
	}

	fires := make([]domain.Fire, 0, len(fc.Features))
	for i, f := range fc.Features {
		fire, err := parseFeature(f)
		if err != nil {
			c.logger.Warn("skipping malformed fire feature", "index", i, "error", err)
			continue
		}
		fires = append(fires, fire)
	}
	c.logger.Info("fire feed fetched", "features", len(fc.Features), "fires", len(fires))
	return fires, nil
}

func parseFeature(f feature) (domain.Fire, error) {
	number := strings.TrimSpace(stringProp(f.Properties[PropFireNumber]))
	if number == "" {
		return domain.Fire{}, errors.New("missing " + PropFireNumber)
	}
	if f.Geometry == nil || f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
		return domain.Fire{}, fmt.Errorf("fire %s: missing point geometry", number)
	}
	size, err := floatProp(f.Properties[PropCurrentSize])
	if err != nil {
		return domain.Fire{}, fmt.Errorf("fire %s: %s: %w", number, PropCurrentSize, err)
	}
	ignition, err := dateProp(f.Properties[PropIgnitionDate])
	if err != nil {
		return domain.Fire{}, fmt.Errorf("fire %s: %s: %w", number, PropIgnitionDate, err)
	}

	return domain.Fire{
		Number:       number,
		Status:       domain.FireStatus(strings.TrimSpace(stringProp(f.Properties[PropFireStatus]))),
		SizeHectares: size,
		IgnitionDate: ignition,
		Location:     domain.Point{Lon: f.Geometry.Coordinates[0], Lat: f.Geometry.Coordinates[1]},
	}, nil
}

func stringProp(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func floatProp(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// dateProp accepts epoch milliseconds, as ArcGIS encodes date fields, or an ISO date string.
func dateProp(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("unsupported date: %s", raw)
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return domain.ParseDate(s)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// ArcGIS GeoJSON response types.

type featureCollection struct {
	Features []feature `json:"features"`
	Error    *apiError `json:"error,omitempty"`
}

type feature struct {
	Geometry   *pointGeometry             `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type pointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
