package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up00001, Down00001)
}

// Up00001 creates the perimeter table with its unique (fire_number, date_of_interest) key.
func Up00001(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range CreateStatements(currentTable()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Down00001 drops the perimeter table. The PostGIS extension is left in place.
func Down00001(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, currentTable()))
	return err
}
