package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up00002, Down00002)
}

// Up00002 adds the preview object key and burned area columns.
func Up00002(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range AddColumnStatements(currentTable()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Down00002 undoes the effects of Up00002.
func Down00002(ctx context.Context, tx *sql.Tx) error {
	t := currentTable()
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s DROP COLUMN IF EXISTS rgb_object_key, DROP COLUMN IF EXISTS area_hectares`, t))
	return err
}
