// Column migrations for databases created before a column existed.
// CREATE TABLE IF NOT EXISTS covers fresh databases; this covers upgrades.
package storage

import (
	"context"
	"fmt"
)

// Migration adds one column to one table when absent.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// migrations lists columns added after the initial schema shipped.
var migrations = []Migration{
	{Table: "scans", Column: "quality", Def: "TEXT NOT NULL DEFAULT 'standard'"},
	{Table: "css_sources", Column: "cross_site", Def: "INTEGER NOT NULL DEFAULT 0"},
	{Table: "sites", Column: "favicon_url", Def: "TEXT NOT NULL DEFAULT ''"},
	{Table: "submissions", Column: "notify_address", Def: "TEXT NOT NULL DEFAULT ''"},
}

// migrate applies any missing column migrations.
func (d *DB) migrate(ctx context.Context) error {
	for _, m := range migrations {
		exists, err := d.columnExists(ctx, m.Table, m.Column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		d.log.Info().Str("table", m.Table).Str("column", m.Column).Msg("applied column migration")
	}
	return nil
}

// columnExists checks PRAGMA table_info for the column.
func (d *DB) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := d.sql.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
