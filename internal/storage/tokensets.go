// Token set persistence. WriteVersion is the single writer for the
// token_sets / token_versions / token_changes triple: all three land in one
// transaction so readers never observe a set without its version row.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tokenlens/tokenlens/internal/fault"
)

// VersionWrite is the payload for one new token set version.
type VersionWrite struct {
	SiteID         string
	ScanID         string
	TokensJSON     string
	ConsensusScore float64
	IsPublic       bool
	CreatedBy      string
	Added          int
	Removed        int
	Modified       int
	ChangelogJSON  string
	Changes        []TokenChangeRow
}

// WriteVersion assigns the next version number for the site and persists the
// token set, its version row, and all change rows atomically. A concurrent
// writer racing for the same version number trips the UNIQUE(site_id,
// version_number) constraint; the write is retried once with a freshly read
// number before giving up with a storage_conflict fault.
func (d *DB) WriteVersion(ctx context.Context, w *VersionWrite) (*TokenSetRow, *TokenVersionRow, error) {
	set, ver, err := d.writeVersionOnce(ctx, w)
	if err == nil {
		return set, ver, nil
	}
	if !isUniqueViolation(err) {
		return nil, nil, err
	}

	d.log.Warn().Str("site_id", w.SiteID).Msg("Version number raced, retrying with fresh number")
	set, ver, err = d.writeVersionOnce(ctx, w)
	if err == nil {
		return set, ver, nil
	}
	if isUniqueViolation(err) {
		return nil, nil, fault.Wrap(fault.KindStorageConflict, "diffing", err,
			"version write for site %s conflicted twice", w.SiteID)
	}
	return nil, nil, err
}

func (d *DB) writeVersionOnce(ctx context.Context, w *VersionWrite) (*TokenSetRow, *TokenVersionRow, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin version transaction: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version_number) FROM token_sets WHERE site_id = ?`, w.SiteID).Scan(&maxVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read current version: %w", err)
	}
	version := int(maxVersion.Int64) + 1

	var prevVersionID string
	if version > 1 {
		err = tx.QueryRowContext(ctx, `
			SELECT v.id FROM token_versions v
			JOIN token_sets s ON s.id = v.token_set_id
			WHERE s.site_id = ? AND s.version_number = ?`,
			w.SiteID, version-1).Scan(&prevVersionID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("failed to resolve previous version: %w", err)
		}
	}

	now := nowMS()
	isPublic := 0
	if w.IsPublic {
		isPublic = 1
	}
	set := &TokenSetRow{
		ID:             uuid.NewString(),
		SiteID:         w.SiteID,
		ScanID:         w.ScanID,
		VersionNumber:  version,
		TokensJSON:     w.TokensJSON,
		ConsensusScore: w.ConsensusScore,
		IsPublic:       w.IsPublic,
		CreatedBy:      w.CreatedBy,
		Created:        msToTime(now),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_sets (id, site_id, scan_id, version_number, tokens_json,
			consensus_score, is_public, created_by, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID, set.SiteID, set.ScanID, set.VersionNumber, set.TokensJSON,
		set.ConsensusScore, isPublic, set.CreatedBy, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert token set: %w", err)
	}

	ver := &TokenVersionRow{
		ID:                uuid.NewString(),
		TokenSetID:        set.ID,
		SiteID:            w.SiteID,
		PreviousVersionID: prevVersionID,
		DiffAdded:         w.Added,
		DiffRemoved:       w.Removed,
		DiffModified:      w.Modified,
		ChangelogJSON:     w.ChangelogJSON,
		Created:           msToTime(now),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_versions (id, token_set_id, site_id, previous_version_id,
			diff_added, diff_removed, diff_modified, changelog_json, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ver.ID, ver.TokenSetID, ver.SiteID, nullIfEmpty(ver.PreviousVersionID),
		ver.DiffAdded, ver.DiffRemoved, ver.DiffModified, ver.ChangelogJSON, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert token version: %w", err)
	}

	for i := range w.Changes {
		c := &w.Changes[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.TokenVersionID = ver.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO token_changes (id, token_version_id, token_path, change_type,
				old_value, new_value, category, created_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TokenVersionID, c.TokenPath, c.ChangeType, c.OldValue, c.NewValue, c.Category, now)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert token change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit version transaction: %w", err)
	}
	return set, ver, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const tokenSetColumns = `id, site_id, scan_id, version_number, tokens_json,
	consensus_score, is_public, created_by, created_ms`

func scanTokenSetRow(scan func(...any) error) (*TokenSetRow, error) {
	var (
		t        TokenSetRow
		isPublic int
		created  int64
	)
	err := scan(&t.ID, &t.SiteID, &t.ScanID, &t.VersionNumber, &t.TokensJSON,
		&t.ConsensusScore, &isPublic, &t.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token set: %w", err)
	}
	t.IsPublic = isPublic != 0
	t.Created = msToTime(created)
	return &t, nil
}

// GetLatestTokenSet returns the highest-numbered token set for a site.
func (d *DB) GetLatestTokenSet(ctx context.Context, siteID string) (*TokenSetRow, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT `+tokenSetColumns+` FROM token_sets
		WHERE site_id = ? ORDER BY version_number DESC LIMIT 1`, siteID)
	return scanTokenSetRow(row.Scan)
}

// GetTokenSet fetches a token set by id.
func (d *DB) GetTokenSet(ctx context.Context, id string) (*TokenSetRow, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+tokenSetColumns+` FROM token_sets WHERE id = ?`, id)
	return scanTokenSetRow(row.Scan)
}

// GetTokenSetVersion fetches a specific version for a site.
func (d *DB) GetTokenSetVersion(ctx context.Context, siteID string, version int) (*TokenSetRow, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT `+tokenSetColumns+` FROM token_sets
		WHERE site_id = ? AND version_number = ?`, siteID, version)
	return scanTokenSetRow(row.Scan)
}

// ListLatestTokenSets returns the newest token set per site, for cross-site
// token search.
func (d *DB) ListLatestTokenSets(ctx context.Context, limit int) ([]TokenSetRow, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT t.id, t.site_id, t.scan_id, t.version_number, t.tokens_json,
		       t.consensus_score, t.is_public, t.created_by, t.created_ms
		FROM token_sets t
		JOIN (
			SELECT site_id, MAX(version_number) AS v
			FROM token_sets GROUP BY site_id
		) latest ON latest.site_id = t.site_id AND latest.v = t.version_number
		ORDER BY t.created_ms DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest token sets: %w", err)
	}
	defer rows.Close()

	var out []TokenSetRow
	for rows.Next() {
		t, err := scanTokenSetRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTokenSetJSON replaces the serialized tokens of an existing set.
// Enrichment and vote adjustments rewrite descriptive fields in place rather
// than minting a new version.
func (d *DB) UpdateTokenSetJSON(ctx context.Context, id, tokensJSON string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE token_sets SET tokens_json = ? WHERE id = ?`, tokensJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update token set: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetVersionForSet returns the version row belonging to a token set.
func (d *DB) GetVersionForSet(ctx context.Context, tokenSetID string) (*TokenVersionRow, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, token_set_id, site_id, previous_version_id, diff_added,
		       diff_removed, diff_modified, changelog_json, created_ms
		FROM token_versions WHERE token_set_id = ?`, tokenSetID)

	var (
		v       TokenVersionRow
		prev    sql.NullString
		created int64
	)
	err := row.Scan(&v.ID, &v.TokenSetID, &v.SiteID, &prev, &v.DiffAdded,
		&v.DiffRemoved, &v.DiffModified, &v.ChangelogJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token version: %w", err)
	}
	v.PreviousVersionID = prev.String
	v.Created = msToTime(created)
	return &v, nil
}

// ListTokenChanges returns the change rows for a version, stable-ordered by
// token path.
func (d *DB) ListTokenChanges(ctx context.Context, versionID string) ([]TokenChangeRow, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, token_version_id, token_path, change_type, old_value, new_value, category, created_ms
		FROM token_changes WHERE token_version_id = ?
		ORDER BY token_path ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token changes: %w", err)
	}
	defer rows.Close()

	var out []TokenChangeRow
	for rows.Next() {
		var (
			c       TokenChangeRow
			created int64
		)
		if err := rows.Scan(&c.ID, &c.TokenVersionID, &c.TokenPath, &c.ChangeType,
			&c.OldValue, &c.NewValue, &c.Category, &created); err != nil {
			return nil, fmt.Errorf("failed to read token change: %w", err)
		}
		c.Created = msToTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountTokenSets returns the number of token set rows.
func (d *DB) CountTokenSets(ctx context.Context) (int64, error) {
	var n int64
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_sets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count token sets: %w", err)
	}
	return n, nil
}
