package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateSubmission records the intake request that spawned (or reused) a scan.
func (d *DB) CreateSubmission(ctx context.Context, s *Submission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	prettify := 0
	if s.Prettify {
		prettify = 1
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO submissions (id, url, domain, quality, prettify, priority, notify_address, scan_id, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.URL, s.Domain, s.Quality, prettify, s.Priority, s.NotifyAddress, s.ScanID, nowMS())
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// CountSubmissions returns the total intake volume.
func (d *DB) CountSubmissions(ctx context.Context) (int64, error) {
	var n int64
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return n, nil
}
