// Package storage owns the SQLite database: connection discipline, schema,
// migrations, and the repositories for every persisted entity.
//
// DESIGN: One write connection (SetMaxOpenConns(1)) serializes all writers at
// the driver level, which together with the orchestrator's per-site mutex
// keeps multi-statement transactions free of SQLITE_BUSY surprises. WAL mode
// keeps readers unblocked.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
)

// DB wraps the SQLite handle and the repositories.
type DB struct {
	sql *sql.DB
	log zerolog.Logger
}

// Open opens (creating if necessary) the database at cfg.URL, applies
// PRAGMAs, installs the schema, and runs column migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn, err := normalizeDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", cfg.URL, err)
	}

	// Single writer connection; WAL readers do not block on it.
	handle.SetMaxOpenConns(1)
	handle.SetConnMaxIdleTime(5 * time.Minute)

	busyTimeout := cfg.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeout),
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, p := range pragmas {
		if _, err := handle.ExecContext(ctx, p); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", strings.TrimSuffix(p, ";"), err)
		}
	}

	db := &DB{
		sql: handle,
		log: monitoring.Component("storage"),
	}

	if err := db.createSchema(ctx); err != nil {
		handle.Close()
		return nil, err
	}
	if err := db.migrate(ctx); err != nil {
		handle.Close()
		return nil, err
	}
	if err := db.ensureStatsRow(ctx); err != nil {
		handle.Close()
		return nil, err
	}

	db.log.Debug().Str("dsn", dsn).Msg("database ready")
	return db, nil
}

// normalizeDSN accepts a bare path, a file: URL, or a sqlite: URL and
// returns a DSN the sqlite driver understands. Other schemes are rejected
// so a misconfigured postgres DATABASE_URL fails loudly.
func normalizeDSN(raw string) (string, error) {
	switch {
	case raw == "":
		return "", fmt.Errorf("database url is empty")
	case strings.HasPrefix(raw, "file:"):
		return raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return "file:" + strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasPrefix(raw, "sqlite:"):
		return "file:" + strings.TrimPrefix(raw, "sqlite:"), nil
	case strings.Contains(raw, "://"):
		return "", fmt.Errorf("unsupported database url scheme in %q (sqlite only)", raw)
	default:
		return "file:" + raw, nil
	}
}

// Handle exposes the raw connection for packages that own their own tables.
func (d *DB) Handle() *sql.DB { return d.sql }

// Ping verifies the connection.
func (d *DB) Ping(ctx context.Context) error {
	var one int
	if err := d.sql.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.sql.Close() }

// Optimize installs the performance indexes and refreshes the query planner
// statistics. Invoked by the `optimize` CLI command; safe to run repeatedly.
func (d *DB) Optimize(ctx context.Context) error {
	for _, stmt := range PerformanceIndexes {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install index: %w", err)
		}
	}
	if _, err := d.sql.ExecContext(ctx, "ANALYZE;"); err != nil {
		return fmt.Errorf("failed to analyze: %w", err)
	}
	d.log.Info().Int("indexes", len(PerformanceIndexes)).Msg("optimize complete")
	return nil
}

// nowMS is the single clock used for persisted timestamps.
func nowMS() int64 { return time.Now().UnixMilli() }

// msToTime converts a stored millisecond timestamp.
func msToTime(ms int64) time.Time { return time.UnixMilli(ms) }

// msToTimePtr converts a nullable stored timestamp.
func msToTimePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}
