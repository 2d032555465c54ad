package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// UpsertLayoutProfile stores the structural snapshot for a scan. Re-running
// a scan id replaces its profile.
func (d *DB) UpsertLayoutProfile(ctx context.Context, p *LayoutProfileRow) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO layout_profiles (id, scan_id, site_id, profile_json, created_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET profile_json = excluded.profile_json`,
		p.ID, p.ScanID, p.SiteID, p.ProfileJSON, nowMS())
	if err != nil {
		return fmt.Errorf("failed to store layout profile: %w", err)
	}
	return nil
}

// GetLatestLayoutProfile returns the newest snapshot for a site.
func (d *DB) GetLatestLayoutProfile(ctx context.Context, siteID string) (*LayoutProfileRow, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, scan_id, site_id, profile_json, created_ms
		FROM layout_profiles WHERE site_id = ?
		ORDER BY created_ms DESC LIMIT 1`, siteID)

	var (
		p       LayoutProfileRow
		created int64
	)
	err := row.Scan(&p.ID, &p.ScanID, &p.SiteID, &p.ProfileJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layout profile: %w", err)
	}
	p.Created = msToTime(created)
	return &p, nil
}
