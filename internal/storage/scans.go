package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateScan inserts a queued scan row and returns it.
func (d *DB) CreateScan(ctx context.Context, siteID, method, quality string) (*Scan, error) {
	s := &Scan{
		ID:      uuid.NewString(),
		SiteID:  siteID,
		Method:  method,
		Quality: quality,
		Status:  ScanQueued,
		Created: msToTime(nowMS()),
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO scans (id, site_id, method, quality, status, created_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.SiteID, s.Method, s.Quality, s.Status, s.Created.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}
	return s, nil
}

// UpdateScanStatus records a phase transition. The fetching transition also
// stamps started_ms.
func (d *DB) UpdateScanStatus(ctx context.Context, id, status string) error {
	var err error
	if status == ScanFetching {
		_, err = d.sql.ExecContext(ctx,
			`UPDATE scans SET status = ?, started_ms = ? WHERE id = ?`, status, nowMS(), id)
	} else {
		_, err = d.sql.ExecContext(ctx,
			`UPDATE scans SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update scan status: %w", err)
	}
	return nil
}

// ScanOutcome captures everything recorded when a scan reaches a terminal
// state.
type ScanOutcome struct {
	Status       string
	SourceCount  int
	AggregateSHA string
	ErrorKind    string
	ErrorMessage string
	MetricsJSON  string
}

// FinishScan stamps the terminal state of a scan.
func (d *DB) FinishScan(ctx context.Context, id string, out ScanOutcome) error {
	_, err := d.sql.ExecContext(ctx, `
		UPDATE scans
		SET status = ?, source_count = ?, aggregate_sha = ?, finished_ms = ?,
		    error_kind = ?, error_message = ?, metrics_json = ?
		WHERE id = ?`,
		out.Status, out.SourceCount, out.AggregateSHA, nowMS(),
		out.ErrorKind, out.ErrorMessage, out.MetricsJSON, id)
	if err != nil {
		return fmt.Errorf("failed to finish scan: %w", err)
	}
	return nil
}

const scanColumns = `id, site_id, method, quality, status, source_count,
	aggregate_sha, started_ms, finished_ms, error_kind, error_message,
	metrics_json, created_ms`

func scanScanRow(scan func(...any) error) (*Scan, error) {
	var (
		s        Scan
		started  sql.NullInt64
		finished sql.NullInt64
		created  int64
	)
	err := scan(&s.ID, &s.SiteID, &s.Method, &s.Quality, &s.Status,
		&s.SourceCount, &s.AggregateSHA, &started, &finished,
		&s.ErrorKind, &s.ErrorMessage, &s.MetricsJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scan: %w", err)
	}
	s.Started = msToTimePtr(started)
	s.Finished = msToTimePtr(finished)
	s.Created = msToTime(created)
	return &s, nil
}

// GetScan fetches one scan by id.
func (d *DB) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	return scanScanRow(row.Scan)
}

// GetLatestCompletedScan returns the most recent completed scan for a site,
// or ErrNotFound when the site has never completed one.
func (d *DB) GetLatestCompletedScan(ctx context.Context, siteID string) (*Scan, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT `+scanColumns+` FROM scans
		WHERE site_id = ? AND status = ?
		ORDER BY finished_ms DESC LIMIT 1`, siteID, ScanCompleted)
	return scanScanRow(row.Scan)
}

// ListScans pages through a site's scan history, newest first.
func (d *DB) ListScans(ctx context.Context, siteID string, limit, offset int) ([]Scan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT `+scanColumns+` FROM scans
		WHERE site_id = ?
		ORDER BY created_ms DESC LIMIT ? OFFSET ?`, siteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		s, err := scanScanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// CountScans returns the number of scan rows, optionally filtered by status.
func (d *DB) CountScans(ctx context.Context, status string) (int64, error) {
	var (
		n   int64
		err error
	)
	if status == "" {
		err = d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&n)
	} else {
		err = d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans WHERE status = ?`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return n, nil
}

// AddCSSSource records one fetched stylesheet reference for a scan.
func (d *DB) AddCSSSource(ctx context.Context, src *CSSSource) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	crossSite := 0
	if src.CrossSite {
		crossSite = 1
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO css_sources (id, scan_id, sha, origin, url, cross_site, cascade_index, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.ScanID, src.SHA, src.Origin, src.URL, crossSite, src.CascadeIndex, nowMS())
	if err != nil {
		return fmt.Errorf("failed to record css source: %w", err)
	}
	return nil
}

// ListCSSSources returns a scan's stylesheet references in cascade order.
func (d *DB) ListCSSSources(ctx context.Context, scanID string) ([]CSSSource, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, scan_id, sha, origin, url, cross_site, cascade_index, created_ms
		FROM css_sources WHERE scan_id = ? ORDER BY cascade_index ASC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list css sources: %w", err)
	}
	defer rows.Close()

	var out []CSSSource
	for rows.Next() {
		var (
			s         CSSSource
			crossSite int
			created   int64
		)
		if err := rows.Scan(&s.ID, &s.ScanID, &s.SHA, &s.Origin, &s.URL,
			&crossSite, &s.CascadeIndex, &created); err != nil {
			return nil, fmt.Errorf("failed to read css source: %w", err)
		}
		s.CrossSite = crossSite != 0
		s.Created = msToTime(created)
		out = append(out, s)
	}
	return out, rows.Err()
}
