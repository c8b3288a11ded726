package postgis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"

	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/postgis/migrations"
	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/geometry"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
)

type execCall struct {
	sql  string
	args []any
}

type recordingExecutor struct {
	calls []execCall
	err   error
}

func (r *recordingExecutor) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.calls = append(r.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func testWriter(db Executor) *Writer {
	return NewWriter(db, migrations.DefaultTable, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func writeSquare(t *testing.T, dir string) string {
	t.Helper()
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{-121.7, 51.4}, {-121.5, 51.4}, {-121.5, 51.6}, {-121.7, 51.6}, {-121.7, 51.4},
	}})
	require.NoError(t, err)
	path := filepath.Join(dir, "K71086.geojson")
	require.NoError(t, geometry.WritePolygons(path, []*geom.Polygon{p}))
	return path
}

func TestWriter_Persist_Upserts(t *testing.T) {
	now := time.Date(2021, 8, 23, 18, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(clockwork.NewRealClock()) })

	db := &recordingExecutor{}
	cloud := 22.2
	area := 412.5
	err := testWriter(db).Persist(context.Background(), PersistInput{
		VectorPath:     writeSquare(t, t.TempDir()),
		FireNumber:     "K71086",
		DateOfInterest: time.Date(2021, 8, 23, 9, 30, 0, 0, time.UTC),
		Location:       domain.Point{Lon: -121.6, Lat: 51.5},
		DateRange:      14,
		CloudCover:     &cloud,
		AreaHectares:   &area,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)

	call := db.calls[0]
	assert.Contains(t, call.sql, "INSERT INTO fire_perimeter AS p")
	assert.Contains(t, call.sql, "ON CONFLICT (fire_number, date_of_interest) DO UPDATE")
	require.Len(t, call.args, 11)

	g, err := ewkbhex.Decode(call.args[0].(string))
	require.NoError(t, err)
	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, domain.SRID, mp.SRID())

	assert.Equal(t, 14, call.args[1])
	assert.Equal(t, "K71086", call.args[2])
	assert.Equal(t, 51.5, call.args[3])
	assert.Equal(t, -121.6, call.args[4])
	assert.Equal(t, time.Date(2021, 8, 23, 0, 0, 0, 0, time.UTC), call.args[5])
	assert.Equal(t, &cloud, call.args[6])
	assert.Nil(t, call.args[7], "empty object key is sent as NULL")
	assert.Equal(t, &area, call.args[8])
	assert.Equal(t, now, call.args[9])
	assert.Equal(t, now, call.args[10])
}

func TestWriter_Persist_NoPolygons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.geojson")
	require.NoError(t, geometry.WritePolygons(path, nil))

	db := &recordingExecutor{}
	err := testWriter(db).Persist(context.Background(), PersistInput{VectorPath: path, FireNumber: "K71086"})
	assert.True(t, errors.Is(err, ErrNoPolygons))
	assert.Empty(t, db.calls, "nothing is written")
}

func TestWriter_Persist_MissingFile(t *testing.T) {
	db := &recordingExecutor{}
	err := testWriter(db).Persist(context.Background(), PersistInput{VectorPath: filepath.Join(t.TempDir(), "nope.geojson")})
	assert.Error(t, err)
	assert.Empty(t, db.calls)
}

func TestWriter_Persist_DatabaseError(t *testing.T) {
	db := &recordingExecutor{err: errors.New("connection refused")}
	err := testWriter(db).Persist(context.Background(), PersistInput{
		VectorPath: writeSquare(t, t.TempDir()),
		FireNumber: "K71086",
	})
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, err, "K71086")
}

func TestWriter_EnsureSchema(t *testing.T) {
	db := &recordingExecutor{}
	w := NewWriter(db, "wildfire.fire_perimeter", slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
	require.NoError(t, w.EnsureSchema(context.Background()))

	var all []string
	for _, c := range db.calls {
		all = append(all, c.sql)
	}
	joined := strings.Join(all, "\n")
	assert.Contains(t, joined, "CREATE EXTENSION IF NOT EXISTS postgis")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS wildfire.fire_perimeter")
	assert.Contains(t, joined, "geometry(MultiPolygon, 4326)")
	assert.Contains(t, joined, "CONSTRAINT fire_perimeter_fire_date_key UNIQUE (fire_number, date_of_interest)")
	assert.Contains(t, joined, "CREATE INDEX IF NOT EXISTS fire_perimeter_geom_idx ON wildfire.fire_perimeter USING gist (geom)")
	assert.Contains(t, joined, "ADD COLUMN IF NOT EXISTS rgb_object_key")
	assert.Contains(t, joined, "ADD COLUMN IF NOT EXISTS area_hectares")
}
