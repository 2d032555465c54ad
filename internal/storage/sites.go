// Site repository: upsert-by-domain, status transitions, FTS-backed search.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// UpsertSite returns the site for a domain, creating a queued row on first
// submission.
func (d *DB) UpsertSite(ctx context.Context, domain string) (*Site, error) {
	id := uuid.NewString()
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO sites (id, domain, status, robots_status, first_seen_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO NOTHING`,
		id, domain, SiteQueued, RobotsUnknown, nowMS())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert site %q: %w", domain, err)
	}
	site, err := d.GetSiteByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if err := d.reindexSiteFTS(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

func scanSiteRow(row *sql.Row) (*Site, error) {
	var (
		s           Site
		firstSeen   int64
		lastScanned sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.Domain, &s.Status, &s.RobotsStatus, &s.Title,
		&s.Description, &s.FaviconURL, &s.Popularity, &firstSeen, &lastScanned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read site: %w", err)
	}
	s.FirstSeen = msToTime(firstSeen)
	s.LastScanned = msToTimePtr(lastScanned)
	return &s, nil
}

const siteColumns = `id, domain, status, robots_status, title, description,
	favicon_url, popularity, first_seen_ms, last_scanned_ms`

// GetSiteByDomain looks a site up by its unique domain.
func (d *DB) GetSiteByDomain(ctx context.Context, domain string) (*Site, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE domain = ?`, domain)
	return scanSiteRow(row)
}

// GetSiteByID looks a site up by id.
func (d *DB) GetSiteByID(ctx context.Context, id string) (*Site, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	return scanSiteRow(row)
}

// UpdateSiteStatus moves a site through its lifecycle.
func (d *DB) UpdateSiteStatus(ctx context.Context, id, status string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE sites SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update site status: %w", err)
	}
	return nil
}

// UpdateSiteRobots records the robots policy decision.
func (d *DB) UpdateSiteRobots(ctx context.Context, id, robotsStatus string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE sites SET robots_status = ? WHERE id = ?`, robotsStatus, id)
	if err != nil {
		return fmt.Errorf("failed to update robots status: %w", err)
	}
	return nil
}

// IncrementSitePopularity bumps the popularity counter on each submission.
func (d *DB) IncrementSitePopularity(ctx context.Context, id string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE sites SET popularity = popularity + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to bump popularity: %w", err)
	}
	return nil
}

// CompleteSite records display metadata and the scan completion timestamp.
func (d *DB) CompleteSite(ctx context.Context, id, title, description, faviconURL string) error {
	_, err := d.sql.ExecContext(ctx, `
		UPDATE sites
		SET status = ?, title = ?, description = ?, favicon_url = ?, last_scanned_ms = ?
		WHERE id = ?`,
		SiteCompleted, title, description, faviconURL, nowMS(), id)
	if err != nil {
		return fmt.Errorf("failed to complete site: %w", err)
	}
	site, err := d.GetSiteByID(ctx, id)
	if err != nil {
		return err
	}
	return d.reindexSiteFTS(ctx, site)
}

// reindexSiteFTS rewrites the FTS row for a site.
func (d *DB) reindexSiteFTS(ctx context.Context, site *Site) error {
	if _, err := d.sql.ExecContext(ctx, `DELETE FROM sites_fts WHERE site_id = ?`, site.ID); err != nil {
		return fmt.Errorf("failed to clear fts row: %w", err)
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO sites_fts (site_id, domain, title, description) VALUES (?, ?, ?, ?)`,
		site.ID, site.Domain, site.Title, site.Description)
	if err != nil {
		return fmt.Errorf("failed to write fts row: %w", err)
	}
	return nil
}

// SiteSearchResult carries the ranked search payload.
type SiteSearchResult struct {
	Site Site
	Rank float64
}

// SearchSites ranks sites for a query by bm25 relevance boosted by
// popularity. Empty queries list by popularity alone.
func (d *DB) SearchSites(ctx context.Context, query string, limit int) ([]SiteSearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	if strings.TrimSpace(query) == "" {
		rows, err := d.sql.QueryContext(ctx, `
			SELECT `+siteColumns+` FROM sites
			ORDER BY popularity DESC, domain ASC LIMIT ?`, limit)
		if err != nil {
			return nil, fmt.Errorf("site listing failed: %w", err)
		}
		return collectSiteResults(rows, nil)
	}

	// Quote each term so raw user input cannot inject FTS syntax.
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	match := strings.Join(terms, " OR ")

	rows, err := d.sql.QueryContext(ctx, `
		SELECT s.id, s.domain, s.status, s.robots_status, s.title, s.description,
		       s.favicon_url, s.popularity, s.first_seen_ms, s.last_scanned_ms,
		       bm25(sites_fts) AS rank
		FROM sites_fts f
		JOIN sites s ON s.id = f.site_id
		WHERE sites_fts MATCH ?
		ORDER BY bm25(sites_fts) - (s.popularity * 0.05) ASC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("site search failed: %w", err)
	}
	return collectSiteResults(rows, func(s *Site, rank float64) float64 {
		// bm25 is lower-is-better; expose a higher-is-better score.
		return -rank + float64(s.Popularity)*0.05
	})
}

func collectSiteResults(rows *sql.Rows, score func(*Site, float64) float64) ([]SiteSearchResult, error) {
	defer rows.Close()

	var out []SiteSearchResult
	for rows.Next() {
		var (
			s           Site
			firstSeen   int64
			lastScanned sql.NullInt64
			rank        float64
		)
		dest := []any{&s.ID, &s.Domain, &s.Status, &s.RobotsStatus, &s.Title,
			&s.Description, &s.FaviconURL, &s.Popularity, &firstSeen, &lastScanned}
		if score != nil {
			dest = append(dest, &rank)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to read site row: %w", err)
		}
		s.FirstSeen = msToTime(firstSeen)
		s.LastScanned = msToTimePtr(lastScanned)

		r := SiteSearchResult{Site: s}
		if score != nil {
			r.Rank = score(&s, rank)
		} else {
			r.Rank = float64(s.Popularity)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSites returns the number of site rows.
func (d *DB) CountSites(ctx context.Context) (int64, error) {
	var n int64
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sites: %w", err)
	}
	return n, nil
}
