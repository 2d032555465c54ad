package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetStats reads the singleton stats row.
func (d *DB) GetStats(ctx context.Context) (*StatsRow, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT total_sites, total_scans, total_token_sets, total_tokens,
		       per_category_json, average_confidence, updated_ms
		FROM stats_cache WHERE id = 1`)

	var (
		s       StatsRow
		updated sql.NullInt64
	)
	err := row.Scan(&s.TotalSites, &s.TotalScans, &s.TotalTokenSets,
		&s.TotalTokens, &s.PerCategoryJSON, &s.AverageConfidence, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	if updated.Valid {
		s.Updated = msToTime(updated.Int64)
	}
	return &s, nil
}

// SaveStats overwrites the singleton stats row. Callers serialize through the
// stats service; the database enforces nothing beyond the single row.
func (d *DB) SaveStats(ctx context.Context, s *StatsRow) error {
	_, err := d.sql.ExecContext(ctx, `
		UPDATE stats_cache
		SET total_sites = ?, total_scans = ?, total_token_sets = ?, total_tokens = ?,
		    per_category_json = ?, average_confidence = ?, updated_ms = ?
		WHERE id = 1`,
		s.TotalSites, s.TotalScans, s.TotalTokenSets, s.TotalTokens,
		s.PerCategoryJSON, s.AverageConfidence, nowMS())
	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}
