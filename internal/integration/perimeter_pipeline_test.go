//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/kafka"
	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/postgis"
	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/geometry"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
	"github.com/couchcryptid/fire-perimeter-service/internal/pipeline"
	"github.com/couchcryptid/fire-perimeter-service/internal/raster"
)

const testTopic = "test-perimeters"

var dateOfInterest = time.Date(2021, 8, 23, 0, 0, 0, 0, time.UTC)

// publishedMessage holds a deserialized message read from the perimeter topic.
type publishedMessage struct {
	Event   domain.PerimeterEvent
	Key     string
	Headers map[string]string
}

// readPublished reads a single message from the consumer and deserializes it.
func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from perimeter topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event domain.PerimeterEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal perimeter event")

	return publishedMessage{Event: event, Key: string(msg.Key), Headers: headers}
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{broker},
		Topic:   testTopic,
		MaxWait: time.Second,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

func square(t *testing.T, lon, lat, side float64) *geom.Polygon {
	t.Helper()
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{lon, lat}, {lon + side, lat}, {lon + side, lat + side}, {lon, lat + side}, {lon, lat},
	}})
	require.NoError(t, err)
	return p
}

// TestPublisher verifies perimeter events round-trip through Kafka with their key and headers.
func TestPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	publisher := kafka.NewPublisher([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	processedAt := time.Date(2021, 8, 24, 6, 0, 0, 0, time.UTC)
	event := domain.PerimeterEvent{
		FireNumber:     "K71086",
		DateOfInterest: "2021-08-23",
		Latitude:       51.5,
		Longitude:      -121.6,
		DateRange:      14,
		AreaHectares:   912.4,
		PolygonCount:   2,
		RGBObjectKey:   "fire_perimeter/K71086/K71086_2021-08-23_rgb.tif",
		RunID:          "run-1",
		ProcessedAt:    processedAt,
	}
	require.NoError(t, publisher.Publish(ctx, event))

	got := readPublished(ctx, t, newConsumer(t, broker))
	assert.Equal(t, "K71086", got.Key)
	assert.Equal(t, "K71086", got.Headers["fire_number"])
	assert.Equal(t, "2021-08-24T06:00:00Z", got.Headers["processed_at"])
	assert.Equal(t, event, got.Event)
}

// TestWriter_UpsertTwiceKeepsOneRow verifies the (fire_number, date_of_interest) key:
// the second write replaces geometry and update_date but keeps the stored object key.
func TestWriter_UpsertTwiceKeepsOneRow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	url := startPostGIS(ctx, t)
	require.NoError(t, postgis.Migrate(ctx, url, "fire_perimeter", discardLogger()))

	pool := newPool(ctx, t, url)
	writer := postgis.NewWriter(pool, "fire_perimeter", discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, writer.EnsureSchema(ctx), "schema check is idempotent after migrations")

	first, err := geometry.MultiPolygon([]*geom.Polygon{square(t, -121.60, 51.50, 0.01)})
	require.NoError(t, err)
	area := 70.0
	rec := domain.PerimeterRecord{
		Geometry:       first,
		FireNumber:     "K71086",
		DateOfInterest: dateOfInterest,
		DateRange:      14,
		Latitude:       51.5,
		Longitude:      -121.6,
		RGBObjectKey:   "fire_perimeter/K71086/K71086_2021-08-23_rgb.tif",
		AreaHectares:   &area,
		CreateDate:     time.Date(2021, 8, 24, 6, 0, 0, 0, time.UTC),
		UpdateDate:     time.Date(2021, 8, 24, 6, 0, 0, 0, time.UTC),
	}
	require.NoError(t, writer.Upsert(ctx, rec))

	second, err := geometry.MultiPolygon([]*geom.Polygon{
		square(t, -121.60, 51.50, 0.02),
		square(t, -121.55, 51.45, 0.01),
	})
	require.NoError(t, err)
	rec.Geometry = second
	rec.RGBObjectKey = ""
	rec.UpdateDate = time.Date(2021, 8, 25, 6, 0, 0, 0, time.UTC)
	require.NoError(t, writer.Upsert(ctx, rec))

	var (
		rows      int
		parts     int
		srid      int
		objectKey string
		updated   time.Time
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM fire_perimeter WHERE fire_number = $1`, "K71086").Scan(&rows))
	assert.Equal(t, 1, rows)

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT ST_NumGeometries(geom), ST_SRID(geom), rgb_object_key, update_date
           FROM fire_perimeter WHERE fire_number = $1 AND date_of_interest = $2`,
		"K71086", dateOfInterest).Scan(&parts, &srid, &objectKey, &updated))
	assert.Equal(t, 2, parts, "second geometry wins")
	assert.Equal(t, domain.SRID, srid)
	assert.Equal(t, "fire_perimeter/K71086/K71086_2021-08-23_rgb.tif", objectKey, "empty key keeps the stored one")
	assert.True(t, updated.Equal(rec.UpdateDate))
}

// fakeSource and fakeImagery stand in for the feed and the imagery service.
type fakeSource struct{ fires []domain.Fire }

func (s fakeSource) FetchFires(context.Context) ([]domain.Fire, error) { return s.fires, nil }

type fakeImagery struct{}

func (fakeImagery) FetchClassification(_ context.Context, scene domain.Scene, path string) error {
	mask := raster.NewMask(scene.Width, scene.Height, raster.GeoTransformFor(scene.Box, scene.Width, scene.Height))
	for r := scene.Height/2 - 1; r <= scene.Height/2+1; r++ {
		for c := scene.Width/2 - 1; c <= scene.Width/2+1; c++ {
			mask.Set(c, r, true)
		}
	}
	return mask.WriteFile(path)
}

func (fakeImagery) FetchPreview(context.Context, domain.Scene, string) error {
	return nil
}

// TestPipelineEndToEnd runs the pipeline against real PostGIS and Kafka: the active
// fire above the threshold is stored and announced, the fire that is out is skipped.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()

	url := startPostGIS(ctx, t)
	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	pool := newPool(ctx, t, url)
	metrics := observability.NewMetricsForTesting()
	writer := postgis.NewWriter(pool, "fire_perimeter", discardLogger(), metrics)
	require.NoError(t, writer.EnsureSchema(ctx))

	publisher := kafka.NewPublisher([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	source := fakeSource{fires: []domain.Fire{
		{Number: "K71086", Status: domain.StatusActive, SizeHectares: 150, Location: domain.Point{Lon: -121.6, Lat: 51.5}},
		{Number: "K20637", Status: domain.StatusOut, SizeHectares: 500, Location: domain.Point{Lon: -120.9, Lat: 50.7}},
	}}
	settings := pipeline.Settings{
		SizeThresholdHa:    90,
		CloudCover:         22.2,
		DateRangeDays:      14,
		BBoxMultiplier:     3,
		GroundSampleMeters: 500,
		OutputDir:          filepath.Join(t.TempDir(), "output"),
		WorkDir:            t.TempDir(),
	}

	p := pipeline.New(source, fakeImagery{}, geometry.NewAreaCalculator(nil), settings, discardLogger(), metrics,
		pipeline.WithPersister(writer),
		pipeline.WithPublisher(publisher),
	)

	report, err := p.RunOnce(ctx, dateOfInterest)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(domain.OutcomeSucceeded))
	assert.Equal(t, 1, report.Count(domain.OutcomeSkipped))

	var stored int
	var area float64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*), max(area_hectares) FROM fire_perimeter WHERE fire_number = $1`, "K71086").Scan(&stored, &area))
	assert.Equal(t, 1, stored)
	assert.InDelta(t, 225, area, 50, "3x3 block of 500 m pixels")

	var skipped int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM fire_perimeter WHERE fire_number = $1`, "K20637").Scan(&skipped))
	assert.Zero(t, skipped)

	got := readPublished(ctx, t, newConsumer(t, broker))
	assert.Equal(t, "K71086", got.Key)
	assert.Equal(t, report.RunID, got.Event.RunID)
	assert.Equal(t, "2021-08-23", got.Event.DateOfInterest)
	assert.Equal(t, 1, got.Event.PolygonCount)
}
