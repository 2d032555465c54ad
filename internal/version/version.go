// Package version computes token diffs between scans and persists new
// versions. A version write is one atomic transaction covering the token
// set, its version row, and all change rows; a concurrent writer racing on
// the same site is absorbed by the storage layer's conflict retry.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

// Engine is the single writer for token versions.
type Engine struct {
	db  *storage.DB
	log zerolog.Logger
}

// NewEngine creates a version engine over the given database.
func NewEngine(db *storage.DB) *Engine {
	return &Engine{db: db, log: monitoring.Component("version")}
}

// Result reports one committed version.
type Result struct {
	Set     *storage.TokenSetRow
	Version *storage.TokenVersionRow

	Added    int
	Removed  int
	Modified int
}

// NoChange reports whether the commit was a no-op rescan: a new version was
// still written (version numbers stay gap-free per completed scan), but the
// diff is empty and no change rows exist.
func (r *Result) NoChange() bool {
	return r.Added == 0 && r.Removed == 0 && r.Modified == 0
}

// Commit diffs the new token set against the site's latest version and
// writes the next version atomically. The first version of a site carries a
// null predecessor and no change rows.
func (e *Engine) Commit(ctx context.Context, siteID, scanID string, set *tokens.Set, createdBy string) (*Result, error) {
	start := time.Now()

	var previous *tokens.Set
	latest, err := e.db.GetLatestTokenSet(ctx, siteID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read latest token set: %w", err)
	}
	if latest != nil {
		previous, err = tokens.Parse(latest.TokensJSON)
		if err != nil {
			// A stored document that no longer parses must not block new
			// versions; diff against empty and note it.
			e.log.Error().Err(err).Str("site_id", siteID).Str("token_set_id", latest.ID).
				Msg("Stored token document unreadable, diffing against empty set")
			previous = &tokens.Set{}
		}
	}

	diff := Diff(previous, set)

	tokensJSON, err := tokens.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token document: %w", err)
	}
	changelog, err := diff.changelogJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode changelog: %w", err)
	}

	setRow, verRow, err := e.db.WriteVersion(ctx, &storage.VersionWrite{
		SiteID:         siteID,
		ScanID:         scanID,
		TokensJSON:     tokensJSON,
		ConsensusScore: set.ConsensusScore(),
		IsPublic:       true,
		CreatedBy:      createdBy,
		Added:          len(diff.Added),
		Removed:        len(diff.Removed),
		Modified:       len(diff.Modified),
		ChangelogJSON:  changelog,
		Changes:        diff.changeRows(),
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("site_id", siteID).
		Int("version", setRow.VersionNumber).
		Int("added", len(diff.Added)).
		Int("removed", len(diff.Removed)).
		Int("modified", len(diff.Modified)).
		Dur("took", time.Since(start)).
		Msg("Token version committed")

	return &Result{
		Set:      setRow,
		Version:  verRow,
		Added:    len(diff.Added),
		Removed:  len(diff.Removed),
		Modified: len(diff.Modified),
	}, nil
}

// Modification is one changed token path.
type Modification struct {
	Path     string `json:"path"`
	Category string `json:"category"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Addition is one new or removed token path with its value.
type Addition struct {
	Path     string `json:"path"`
	Category string `json:"category"`
	Value    string `json:"value"`
}

// DiffResult is the full changelog between two token sets.
type DiffResult struct {
	Added    []Addition     `json:"added"`
	Removed  []Addition     `json:"removed"`
	Modified []Modification `json:"modified"`
}

func (d *DiffResult) changelogJSON() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *DiffResult) changeRows() []storage.TokenChangeRow {
	rows := make([]storage.TokenChangeRow, 0, len(d.Added)+len(d.Removed)+len(d.Modified))
	for _, a := range d.Added {
		rows = append(rows, storage.TokenChangeRow{
			TokenPath: a.Path, ChangeType: storage.ChangeAdded,
			NewValue: a.Value, Category: a.Category,
		})
	}
	for _, r := range d.Removed {
		rows = append(rows, storage.TokenChangeRow{
			TokenPath: r.Path, ChangeType: storage.ChangeRemoved,
			OldValue: r.Value, Category: r.Category,
		})
	}
	for _, m := range d.Modified {
		rows = append(rows, storage.TokenChangeRow{
			TokenPath: m.Path, ChangeType: storage.ChangeModified,
			OldValue: m.OldValue, NewValue: m.NewValue, Category: m.Category,
		})
	}
	return rows
}

// Diff compares two token sets path by path. A nil or empty old set makes
// every new token an addition.
func Diff(old, new *tokens.Set) *DiffResult {
	res := &DiffResult{}
	oldByPath := map[string]tokens.Token{}
	if old != nil {
		oldByPath = old.ByPath()
	}

	seen := map[string]bool{}
	for _, nt := range new.Tokens {
		seen[nt.Path] = true
		ot, existed := oldByPath[nt.Path]
		if !existed {
			res.Added = append(res.Added, Addition{
				Path: nt.Path, Category: nt.Category(), Value: nt.Value.CSS(),
			})
			continue
		}
		if !Equal(ot.Value, nt.Value) {
			res.Modified = append(res.Modified, Modification{
				Path: nt.Path, Category: nt.Category(),
				OldValue: ot.Value.CSS(), NewValue: nt.Value.CSS(),
			})
		}
	}
	if old != nil {
		for _, ot := range old.Tokens {
			if !seen[ot.Path] {
				res.Removed = append(res.Removed, Addition{
					Path: ot.Path, Category: ot.Category(), Value: ot.Value.CSS(),
				})
			}
		}
	}
	return res
}
