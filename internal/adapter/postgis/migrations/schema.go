// Package migrations holds the goose migrations for the perimeter table and the
// DDL they share with the writer's idempotent schema check.
package migrations

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultTable is the perimeter table name used when none is configured.
const DefaultTable = "fire_perimeter"

var (
	mu    sync.RWMutex
	table = DefaultTable
)

// SetTable selects the table the registered migrations operate on.
// The name must already be validated as a (schema-qualified) identifier.
func SetTable(name string) {
	mu.Lock()
	defer mu.Unlock()
	table = name
}

func currentTable() string {
	mu.RLock()
	defer mu.RUnlock()
	return table
}

// baseName strips any schema qualifier, for naming indexes and constraints.
func baseName(t string) string {
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		return t[i+1:]
	}
	return t
}

// CreateStatements creates the PostGIS extension, the perimeter table and its spatial index.
func CreateStatements(t string) []string {
	base := baseName(t)
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id BIGSERIAL PRIMARY KEY,
            geom geometry(MultiPolygon, 4326) NOT NULL,
            date_range INTEGER NOT NULL,
            fire_number TEXT NOT NULL,
            latitude DOUBLE PRECISION NOT NULL,
            longitude DOUBLE PRECISION NOT NULL,
            date_of_interest DATE NOT NULL,
            cloud_cover DOUBLE PRECISION,
            create_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            update_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CONSTRAINT %s_fire_date_key UNIQUE (fire_number, date_of_interest)
        )`, t, base),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_geom_idx ON %s USING gist (geom)`, base, t),
	}
}

// AddColumnStatements adds the preview object key and area columns.
func AddColumnStatements(t string) []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS rgb_object_key TEXT`, t),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS area_hectares DOUBLE PRECISION`, t),
	}
}

// Statements returns every statement needed to bring the table to the current schema.
func Statements(t string) []string {
	return append(CreateStatements(t), AddColumnStatements(t)...)
}
