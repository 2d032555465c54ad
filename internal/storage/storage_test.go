package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), config.DatabaseConfig{
		URL: filepath.Join(t.TempDir(), "tokenlens.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// ===== SITE TESTS =====

func TestUpsertSiteIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.UpsertSite(ctx, "stripe.com")
	require.NoError(t, err)
	second, err := db.UpsertSite(ctx, "stripe.com")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same domain must map to one site row")
	assert.Equal(t, storage.SiteQueued, first.Status)
	assert.Equal(t, storage.RobotsUnknown, first.RobotsStatus)

	n, err := db.CountSites(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSiteLookupsAndTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "linear.app")
	require.NoError(t, err)

	_, err = db.GetSiteByDomain(ctx, "missing.example")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, db.UpdateSiteStatus(ctx, site.ID, storage.SiteScanning))
	require.NoError(t, db.UpdateSiteRobots(ctx, site.ID, storage.RobotsAllowed))
	require.NoError(t, db.CompleteSite(ctx, site.ID, "Linear", "Issue tracking", "https://linear.app/favicon.ico"))

	got, err := db.GetSiteByID(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SiteCompleted, got.Status)
	assert.Equal(t, storage.RobotsAllowed, got.RobotsStatus)
	assert.Equal(t, "Linear", got.Title)
	require.NotNil(t, got.LastScanned)
}

func TestSearchSitesRanksMatches(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.UpsertSite(ctx, "stripe.com")
	require.NoError(t, err)
	require.NoError(t, db.CompleteSite(ctx, a.ID, "Stripe", "Payments infrastructure for the internet", ""))

	b, err := db.UpsertSite(ctx, "vercel.com")
	require.NoError(t, err)
	require.NoError(t, db.CompleteSite(ctx, b.ID, "Vercel", "Frontend cloud payments-adjacent", ""))

	results, err := db.SearchSites(ctx, "payments infrastructure", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "stripe.com", results[0].Site.Domain)
}

func TestSearchSitesEmptyQueryListsByPopularity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.UpsertSite(ctx, "alpha.test")
	require.NoError(t, err)
	_, err = db.UpsertSite(ctx, "beta.test")
	require.NoError(t, err)

	require.NoError(t, db.IncrementSitePopularity(ctx, a.ID))
	require.NoError(t, db.IncrementSitePopularity(ctx, a.ID))

	results, err := db.SearchSites(ctx, "  ", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha.test", results[0].Site.Domain)
}

// ===== SCAN TESTS =====

func TestScanLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)

	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	assert.Equal(t, storage.ScanQueued, scan.Status)

	require.NoError(t, db.UpdateScanStatus(ctx, scan.ID, storage.ScanFetching))
	got, err := db.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ScanFetching, got.Status)
	require.NotNil(t, got.Started, "fetching transition stamps started_ms")

	require.NoError(t, db.FinishScan(ctx, scan.ID, storage.ScanOutcome{
		Status:       storage.ScanCompleted,
		SourceCount:  3,
		AggregateSHA: "abc123",
		MetricsJSON:  `{"fetch_ms":120}`,
	}))

	got, err = db.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ScanCompleted, got.Status)
	assert.Equal(t, 3, got.SourceCount)
	require.NotNil(t, got.Finished)

	latest, err := db.GetLatestCompletedScan(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.ID, latest.ID)
}

func TestGetLatestCompletedScanSkipsFailures(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)

	failed, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	require.NoError(t, db.FinishScan(ctx, failed.ID, storage.ScanOutcome{
		Status:    storage.ScanFailed,
		ErrorKind: "unreachable",
	}))

	_, err = db.GetLatestCompletedScan(ctx, site.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCSSSourcesKeepCascadeOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)

	// css_sources references css_content(sha), so seed the content rows.
	for _, sha := range []string{"sha-b", "sha-a"} {
		_, err := db.Handle().ExecContext(ctx, `
			INSERT INTO css_content (sha, body, original_bytes, compressed_bytes,
				reference_count, ttl_days, first_seen_ms, last_accessed_ms)
			VALUES (?, X'00', 1, 1, 1, 30, 0, 0)`, sha)
		require.NoError(t, err)
	}

	require.NoError(t, db.AddCSSSource(ctx, &storage.CSSSource{
		ScanID: scan.ID, SHA: "sha-b", Origin: storage.OriginImported,
		URL: "https://example.test/b.css", CascadeIndex: 1,
	}))
	require.NoError(t, db.AddCSSSource(ctx, &storage.CSSSource{
		ScanID: scan.ID, SHA: "sha-a", Origin: storage.OriginLinked,
		URL: "https://example.test/a.css", CascadeIndex: 0, CrossSite: true,
	}))

	sources, err := db.ListCSSSources(ctx, scan.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "sha-a", sources[0].SHA)
	assert.True(t, sources[0].CrossSite)
	assert.Equal(t, "sha-b", sources[1].SHA)
}

// ===== TOKEN SET TESTS =====

func TestWriteVersionAssignsGapFreeNumbers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)

	set1, ver1, err := db.WriteVersion(ctx, &storage.VersionWrite{
		SiteID:         site.ID,
		ScanID:         scan.ID,
		TokensJSON:     `{"color":{}}`,
		ConsensusScore: 0.9,
		CreatedBy:      "scanner",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, set1.VersionNumber)
	assert.Empty(t, ver1.PreviousVersionID, "v1 has no predecessor")
	assert.Zero(t, ver1.DiffAdded)

	set2, ver2, err := db.WriteVersion(ctx, &storage.VersionWrite{
		SiteID:         site.ID,
		ScanID:         scan.ID,
		TokensJSON:     `{"color":{"primary":{}}}`,
		ConsensusScore: 0.92,
		CreatedBy:      "scanner",
		Added:          1,
		Changes: []storage.TokenChangeRow{{
			TokenPath:  "color.primary",
			ChangeType: storage.ChangeAdded,
			NewValue:   "#635bff",
			Category:   "color",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, set2.VersionNumber)
	assert.Equal(t, ver1.ID, ver2.PreviousVersionID)

	latest, err := db.GetLatestTokenSet(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, set2.ID, latest.ID)

	changes, err := db.ListTokenChanges(ctx, ver2.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "color.primary", changes[0].TokenPath)
	assert.Equal(t, storage.ChangeAdded, changes[0].ChangeType)
}

func TestVersionRowIsAtomicWithSet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)

	set, _, err := db.WriteVersion(ctx, &storage.VersionWrite{
		SiteID: site.ID, ScanID: scan.ID, TokensJSON: `{}`, CreatedBy: "scanner",
	})
	require.NoError(t, err)

	ver, err := db.GetVersionForSet(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, set.ID, ver.TokenSetID)
	assert.Equal(t, site.ID, ver.SiteID)
}

func TestListLatestTokenSetsOnePerSite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, domain := range []string{"a.test", "b.test"} {
		site, err := db.UpsertSite(ctx, domain)
		require.NoError(t, err)
		scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, _, err := db.WriteVersion(ctx, &storage.VersionWrite{
				SiteID: site.ID, ScanID: scan.ID, TokensJSON: `{}`, CreatedBy: "scanner",
			})
			require.NoError(t, err)
		}
	}

	latest, err := db.ListLatestTokenSets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, ts := range latest {
		assert.Equal(t, 2, ts.VersionNumber)
	}
}

func TestUpdateTokenSetJSON(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	set, _, err := db.WriteVersion(ctx, &storage.VersionWrite{
		SiteID: site.ID, ScanID: scan.ID, TokensJSON: `{}`, CreatedBy: "scanner",
	})
	require.NoError(t, err)

	require.NoError(t, db.UpdateTokenSetJSON(ctx, set.ID, `{"enriched":true}`))
	got, err := db.GetTokenSet(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"enriched":true}`, got.TokensJSON)

	err = db.UpdateTokenSetJSON(ctx, "no-such-id", `{}`)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ===== LAYOUT / SUBMISSION / VOTE TESTS =====

func TestLayoutProfileUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodComputed, "premium")
	require.NoError(t, err)

	require.NoError(t, db.UpsertLayoutProfile(ctx, &storage.LayoutProfileRow{
		ScanID: scan.ID, SiteID: site.ID, ProfileJSON: `{"container":{"max_width":"1200px"}}`,
	}))
	require.NoError(t, db.UpsertLayoutProfile(ctx, &storage.LayoutProfileRow{
		ScanID: scan.ID, SiteID: site.ID, ProfileJSON: `{"container":{"max_width":"1280px"}}`,
	}))

	got, err := db.GetLatestLayoutProfile(ctx, site.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ProfileJSON, "1280px")
}

func TestSubmissionsAndVotes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	site, err := db.UpsertSite(ctx, "example.test")
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	set, _, err := db.WriteVersion(ctx, &storage.VersionWrite{
		SiteID: site.ID, ScanID: scan.ID, TokensJSON: `{}`, CreatedBy: "scanner",
	})
	require.NoError(t, err)

	require.NoError(t, db.CreateSubmission(ctx, &storage.Submission{
		URL: "https://example.test", Domain: "example.test", Quality: "standard", ScanID: scan.ID,
	}))
	n, err := db.CountSubmissions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	for _, vt := range []string{"up", "up", "down"} {
		require.NoError(t, db.InsertVote(ctx, &storage.Vote{
			TokenSetID: set.ID, TokenKey: "color.primary", VoteType: vt,
		}))
	}
	tally, err := db.TallyVotes(ctx, set.ID)
	require.NoError(t, err)
	require.Len(t, tally, 1)
	assert.EqualValues(t, 2, tally[0].Up)
	assert.EqualValues(t, 1, tally[0].Down)
}

// ===== STATS TESTS =====

func TestStatsSingletonRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	initial, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, initial.TotalSites)

	require.NoError(t, db.SaveStats(ctx, &storage.StatsRow{
		TotalSites:        4,
		TotalScans:        9,
		TotalTokenSets:    6,
		TotalTokens:       120,
		PerCategoryJSON:   `{"color":40}`,
		AverageConfidence: 0.81,
	}))

	got, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.TotalSites)
	assert.EqualValues(t, 120, got.TotalTokens)
	assert.InDelta(t, 0.81, got.AverageConfidence, 1e-9)
	assert.False(t, got.Updated.IsZero())
}

// ===== INFRASTRUCTURE TESTS =====

func TestOpenRejectsForeignSchemes(t *testing.T) {
	_, err := storage.Open(context.Background(), config.DatabaseConfig{
		URL: "postgres://localhost/tokens",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite only")
}

func TestOptimizeIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Optimize(ctx))
	require.NoError(t, db.Optimize(ctx))
	require.NoError(t, db.Ping(ctx))
}
