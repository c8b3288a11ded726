package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

const headerContentType = "Content-Type"

func testClient(url string) *Client {
	return NewClient(url, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_FetchFires_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "geojson", q.Get("f"))
		assert.Equal(t, "*", q.Get("outFields"))
		assert.Equal(t, "FIRE_STATUS <> 'Out'", q.Get("where"))

		w.Header().Set(headerContentType, "application/geo+json")
		_, _ = w.Write([]byte(`{
		  "type": "FeatureCollection",
		  "features": [
		    {"type": "Feature",
		     "geometry": {"type": "Point", "coordinates": [-121.6, 51.5]},
		     "properties": {"FIRE_NUMBER": "K71086", "FIRE_STATUS": "Out of Control",
		                    "CURRENT_SIZE": 150.5, "IGNITION_DATE": 1627776000000}},
		    {"type": "Feature",
		     "geometry": {"type": "Point", "coordinates": [-120.1, 50.2]},
		     "properties": {"FIRE_NUMBER": "K20637", "FIRE_STATUS": "Being Held",
		                    "CURRENT_SIZE": "12", "IGNITION_DATE": "2021-08-03"}}
		  ]
		}`))
	}))
	defer srv.Close()

	fires, err := testClient(srv.URL).FetchFires(context.Background())
	require.NoError(t, err)

	want := []domain.Fire{
		{
			Number:       "K71086",
			Status:       domain.StatusOutOfControl,
			SizeHectares: 150.5,
			IgnitionDate: time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC),
			Location:     domain.Point{Lon: -121.6, Lat: 51.5},
		},
		{
			Number:       "K20637",
			Status:       domain.StatusBeingHeld,
			SizeHectares: 12,
			IgnitionDate: time.Date(2021, 8, 3, 0, 0, 0, 0, time.UTC),
			Location:     domain.Point{Lon: -120.1, Lat: 50.2},
		},
	}
	if diff := cmp.Diff(want, fires); diff != "" {
		t.Errorf("fires mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_FetchFires_SkipsMalformedFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features": [
		  {"geometry": {"type": "Point", "coordinates": [-121.6, 51.5]},
		   "properties": {"FIRE_STATUS": "Out of Control", "CURRENT_SIZE": 200}},
		  {"geometry": null,
		   "properties": {"FIRE_NUMBER": "G40001", "FIRE_STATUS": "Out of Control", "CURRENT_SIZE": 200}},
		  {"geometry": {"type": "Point", "coordinates": [-121.6, 51.5]},
		   "properties": {"FIRE_NUMBER": "G40002", "CURRENT_SIZE": "large"}},
		  {"geometry": {"type": "Point", "coordinates": [-122.0, 52.0]},
		   "properties": {"FIRE_NUMBER": "G40003", "FIRE_STATUS": "Under Control", "CURRENT_SIZE": null, "IGNITION_DATE": null}}
		]}`))
	}))
	defer srv.Close()

	fires, err := testClient(srv.URL).FetchFires(context.Background())
	require.NoError(t, err)
	require.Len(t, fires, 1)
	assert.Equal(t, "G40003", fires[0].Number)
	assert.Zero(t, fires[0].SizeHectares)
	assert.True(t, fires[0].IgnitionDate.IsZero())
}

func TestClient_FetchFires_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "Invalid query parameters."}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchFires(context.Background())
	assert.ErrorContains(t, err, "Invalid query parameters.")
}

func TestClient_FetchFires_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchFires(context.Background())
	assert.ErrorContains(t, err, "status 503")
}

func TestClient_FetchFires_PreservesExistingQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		assert.Equal(t, "geojson", r.URL.Query().Get("f"))
		_, _ = w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	fires, err := testClient(srv.URL + "/query?token=abc").FetchFires(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fires)
}
