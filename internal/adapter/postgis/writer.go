package postgis

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/twpayne/go-geom/encoding/ewkbhex"

	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/postgis/migrations"
	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/geometry"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
)

// ErrNoPolygons is returned by Persist when the vector file holds no polygons; nothing is written.
var ErrNoPolygons = domain.ErrNoPolygons

// Executor runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PersistInput describes one perimeter to store.
type PersistInput struct {
	VectorPath     string
	FireNumber     string
	DateOfInterest time.Time
	Location       domain.Point
	DateRange      int
	CloudCover     *float64
	RGBObjectKey   string
	AreaHectares   *float64
}

// Writer stores perimeters in a PostGIS table, one row per fire and date of interest.
type Writer struct {
	db      Executor
	table   string
	upsert  string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a writer for table, which must be a validated identifier.
func NewWriter(db Executor, table string, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	return &Writer{
		db:      db,
		table:   table,
		upsert:  upsertSQL(table),
		logger:  logger,
		metrics: metrics,
	}
}

// EnsureSchema creates the table, its unique key and spatial index if they are missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	for _, stmt := range migrations.Statements(w.table) {
		if _, err := w.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Persist reads every polygon from the vector file, merges them into one
// multi-polygon and upserts it.
func (w *Writer) Persist(ctx context.Context, in PersistInput) error {
	polys, err := geometry.ReadPolygons(in.VectorPath)
	if err != nil {
		return err
	}
	if len(polys) == 0 {
		w.logger.Info("no polygons to persist", "fire_number", in.FireNumber, "path", in.VectorPath)
		return ErrNoPolygons
	}

	mp, err := geometry.MultiPolygon(polys)
	if err != nil {
		return err
	}

	now := domain.Now()
	rec := domain.PerimeterRecord{
		Geometry:       mp,
		FireNumber:     in.FireNumber,
		DateOfInterest: domain.CivilDate(in.DateOfInterest),
		DateRange:      in.DateRange,
		Latitude:       in.Location.Lat,
		Longitude:      in.Location.Lon,
		CloudCover:     in.CloudCover,
		RGBObjectKey:   in.RGBObjectKey,
		AreaHectares:   in.AreaHectares,
		CreateDate:     now,
		UpdateDate:     now,
	}
	if err := w.Upsert(ctx, rec); err != nil {
		return err
	}

	w.metrics.PolygonsWritten.Add(float64(len(polys)))
	w.logger.Info("perimeter persisted",
		"fire_number", rec.FireNumber,
		"date_of_interest", domain.FormatDate(rec.DateOfInterest),
		"polygons", len(polys),
	)
	return nil
}

// Upsert inserts the record or, when the (fire_number, date_of_interest) key
// exists, replaces its geometry and attributes. An empty RGBObjectKey keeps the stored key.
func (w *Writer) Upsert(ctx context.Context, rec domain.PerimeterRecord) error {
	if rec.Geometry == nil || rec.Geometry.NumPolygons() == 0 {
		return ErrNoPolygons
	}
	hex, err := ewkbhex.Encode(rec.Geometry, binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("encode geometry: %w", err)
	}

	_, err = w.db.Exec(ctx, w.upsert,
		hex,
		rec.DateRange,
		rec.FireNumber,
		rec.Latitude,
		rec.Longitude,
		rec.DateOfInterest,
		rec.CloudCover,
		nullString(rec.RGBObjectKey),
		rec.AreaHectares,
		rec.CreateDate,
		rec.UpdateDate,
	)
	if err != nil {
		return fmt.Errorf("upsert perimeter %s: %w", rec.FireNumber, err)
	}
	return nil
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s AS p
        (geom, date_range, fire_number, latitude, longitude, date_of_interest,
         cloud_cover, rgb_object_key, area_hectares, create_date, update_date)
        VALUES (ST_GeomFromEWKB(decode($1, 'hex')), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (fire_number, date_of_interest) DO UPDATE SET
            geom = EXCLUDED.geom,
            date_range = EXCLUDED.date_range,
            latitude = EXCLUDED.latitude,
            longitude = EXCLUDED.longitude,
            cloud_cover = EXCLUDED.cloud_cover,
            rgb_object_key = COALESCE(EXCLUDED.rgb_object_key, p.rgb_object_key),
            area_hectares = EXCLUDED.area_hectares,
            update_date = EXCLUDED.update_date`, table)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
