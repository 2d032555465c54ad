// Schema DDL for every persisted entity. Tables are created with the full
// current shape; migrations.go upgrades databases created before a column
// existed. Performance indexes are installed separately by `optimize`.
package storage

import (
	"context"
	"fmt"
)

// SchemaSites holds the root entity. Every other table hangs off it.
const SchemaSites = `
CREATE TABLE IF NOT EXISTS sites (
	id              TEXT PRIMARY KEY,
	domain          TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL DEFAULT 'queued',
	robots_status   TEXT NOT NULL DEFAULT 'unknown',
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	favicon_url     TEXT NOT NULL DEFAULT '',
	popularity      INTEGER NOT NULL DEFAULT 0,
	first_seen_ms   INTEGER NOT NULL,
	last_scanned_ms INTEGER
);`

// SchemaSitesFTS is a standalone FTS5 index over site search fields,
// rewritten on every site upsert. bm25 rank feeds searchSites.
const SchemaSitesFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS sites_fts USING fts5(
	site_id UNINDEXED,
	domain,
	title,
	description
);`

// SchemaScans: one row per pipeline run, immutable after finish.
const SchemaScans = `
CREATE TABLE IF NOT EXISTS scans (
	id            TEXT PRIMARY KEY,
	site_id       TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	method        TEXT NOT NULL DEFAULT 'static',
	quality       TEXT NOT NULL DEFAULT 'standard',
	status        TEXT NOT NULL DEFAULT 'queued',
	source_count  INTEGER NOT NULL DEFAULT 0,
	aggregate_sha TEXT NOT NULL DEFAULT '',
	started_ms    INTEGER,
	finished_ms   INTEGER,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	metrics_json  TEXT NOT NULL DEFAULT '{}',
	created_ms    INTEGER NOT NULL
);`

// SchemaCSSContent is the deduplication root, keyed by the SHA-256 of the
// normalized body. Only reference_count and last_accessed_ms are mutable.
const SchemaCSSContent = `
CREATE TABLE IF NOT EXISTS css_content (
	sha              TEXT PRIMARY KEY,
	body             BLOB NOT NULL,
	original_bytes   INTEGER NOT NULL,
	compressed_bytes INTEGER NOT NULL,
	reference_count  INTEGER NOT NULL DEFAULT 0,
	ttl_days         INTEGER NOT NULL,
	first_seen_ms    INTEGER NOT NULL,
	last_accessed_ms INTEGER NOT NULL,
	CHECK (reference_count >= 0)
);`

// SchemaCSSSources: per-scan references into css_content. The sha FK is
// RESTRICT on purpose: sweep may only remove bodies nothing references.
const SchemaCSSSources = `
CREATE TABLE IF NOT EXISTS css_sources (
	id            TEXT PRIMARY KEY,
	scan_id       TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	sha           TEXT NOT NULL REFERENCES css_content(sha),
	origin        TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	cross_site    INTEGER NOT NULL DEFAULT 0,
	cascade_index INTEGER NOT NULL DEFAULT 0,
	created_ms    INTEGER NOT NULL
);`

// SchemaTokenSets: immutable canonical snapshots. The UNIQUE constraint is
// what turns concurrent same-site writes into StorageConflict.
const SchemaTokenSets = `
CREATE TABLE IF NOT EXISTS token_sets (
	id              TEXT PRIMARY KEY,
	site_id         TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	scan_id         TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	version_number  INTEGER NOT NULL,
	tokens_json     TEXT NOT NULL,
	consensus_score REAL NOT NULL DEFAULT 0,
	is_public       INTEGER NOT NULL DEFAULT 1,
	created_by      TEXT NOT NULL DEFAULT 'scanner',
	created_ms      INTEGER NOT NULL,
	UNIQUE (site_id, version_number)
);`

// SchemaTokenVersions: append-only linked list per site.
// previous_version_id is a weak back-reference, read-side only.
const SchemaTokenVersions = `
CREATE TABLE IF NOT EXISTS token_versions (
	id                  TEXT PRIMARY KEY,
	token_set_id        TEXT NOT NULL UNIQUE REFERENCES token_sets(id) ON DELETE CASCADE,
	site_id             TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	previous_version_id TEXT,
	diff_added          INTEGER NOT NULL DEFAULT 0,
	diff_removed        INTEGER NOT NULL DEFAULT 0,
	diff_modified       INTEGER NOT NULL DEFAULT 0,
	changelog_json      TEXT NOT NULL DEFAULT '{}',
	created_ms          INTEGER NOT NULL
);`

// SchemaTokenChanges: one row per atomic change within a version.
const SchemaTokenChanges = `
CREATE TABLE IF NOT EXISTS token_changes (
	id               TEXT PRIMARY KEY,
	token_version_id TEXT NOT NULL REFERENCES token_versions(id) ON DELETE CASCADE,
	token_path       TEXT NOT NULL,
	change_type      TEXT NOT NULL,
	old_value        TEXT NOT NULL DEFAULT '',
	new_value        TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL,
	created_ms       INTEGER NOT NULL
);`

// SchemaLayoutProfiles: one snapshot per scan, never diffed.
const SchemaLayoutProfiles = `
CREATE TABLE IF NOT EXISTS layout_profiles (
	id           TEXT PRIMARY KEY,
	scan_id      TEXT NOT NULL UNIQUE REFERENCES scans(id) ON DELETE CASCADE,
	site_id      TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	profile_json TEXT NOT NULL,
	created_ms   INTEGER NOT NULL
);`

// SchemaSubmissions: intake audit trail for scan requests.
const SchemaSubmissions = `
CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	domain         TEXT NOT NULL,
	quality        TEXT NOT NULL DEFAULT 'standard',
	prettify       INTEGER NOT NULL DEFAULT 0,
	priority       INTEGER NOT NULL DEFAULT 0,
	notify_address TEXT NOT NULL DEFAULT '',
	scan_id        TEXT NOT NULL DEFAULT '',
	created_ms     INTEGER NOT NULL
);`

// SchemaStatsCache: singleton materialization, id fixed at 1.
const SchemaStatsCache = `
CREATE TABLE IF NOT EXISTS stats_cache (
	id                 INTEGER PRIMARY KEY CHECK (id = 1),
	total_sites        INTEGER NOT NULL DEFAULT 0,
	total_scans        INTEGER NOT NULL DEFAULT 0,
	total_token_sets   INTEGER NOT NULL DEFAULT 0,
	total_tokens       INTEGER NOT NULL DEFAULT 0,
	per_category_json  TEXT NOT NULL DEFAULT '{}',
	average_confidence REAL NOT NULL DEFAULT 0,
	updated_ms         INTEGER NOT NULL
);`

// SchemaTokenVotes: confidence adjustment audit trail.
const SchemaTokenVotes = `
CREATE TABLE IF NOT EXISTS token_votes (
	id           TEXT PRIMARY KEY,
	token_set_id TEXT NOT NULL REFERENCES token_sets(id) ON DELETE CASCADE,
	token_key    TEXT NOT NULL,
	vote_type    TEXT NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	created_ms   INTEGER NOT NULL
);`

// AllSchemas returns every DDL statement in dependency order.
func AllSchemas() []string {
	return []string{
		SchemaSites,
		SchemaSitesFTS,
		SchemaScans,
		SchemaCSSContent,
		SchemaCSSSources,
		SchemaTokenSets,
		SchemaTokenVersions,
		SchemaTokenChanges,
		SchemaLayoutProfiles,
		SchemaSubmissions,
		SchemaStatsCache,
		SchemaTokenVotes,
	}
}

// PerformanceIndexes are installed by the `optimize` command rather than at
// open, so fresh deployments start serving before index builds.
var PerformanceIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_scans_site_created ON scans(site_id, created_ms DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);`,
	`CREATE INDEX IF NOT EXISTS idx_css_sources_scan ON css_sources(scan_id);`,
	`CREATE INDEX IF NOT EXISTS idx_css_sources_sha ON css_sources(sha);`,
	`CREATE INDEX IF NOT EXISTS idx_css_content_sweep ON css_content(reference_count, last_accessed_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_token_sets_site_version ON token_sets(site_id, version_number DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_token_versions_site ON token_versions(site_id, created_ms DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_token_changes_version ON token_changes(token_version_id);`,
	`CREATE INDEX IF NOT EXISTS idx_layout_profiles_site ON layout_profiles(site_id, created_ms DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_domain ON submissions(domain, created_ms DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_token_votes_set ON token_votes(token_set_id, token_key);`,
}

// createSchema applies all DDL statements.
func (d *DB) createSchema(ctx context.Context) error {
	for _, stmt := range AllSchemas() {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// ensureStatsRow seeds the singleton stats row.
func (d *DB) ensureStatsRow(ctx context.Context) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO stats_cache (id, updated_ms) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`,
		nowMS())
	if err != nil {
		return fmt.Errorf("failed to seed stats cache: %w", err)
	}
	return nil
}
