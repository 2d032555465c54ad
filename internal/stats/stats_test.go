package stats_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/stats"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/store"
	"github.com/tokenlens/tokenlens/internal/tokens"
	"github.com/tokenlens/tokenlens/internal/version"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func newService(t *testing.T, opts ...stats.Option) (*stats.Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(context.Background(), config.DatabaseConfig{
		URL: filepath.Join(t.TempDir(), "stats.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { cache.Close() })

	svc := stats.New(db, cache, opts...)
	return svc, db
}

func commitSet(t *testing.T, db *storage.DB, domain string, set *tokens.Set) {
	t.Helper()
	ctx := context.Background()
	site, err := db.UpsertSite(ctx, domain)
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	_, err = version.NewEngine(db).Commit(ctx, site.ID, scan.ID, set, "scanner")
	require.NoError(t, err)
}

func sampleSet(confidence float64) *tokens.Set {
	s := &tokens.Set{}
	s.Add(tokens.Token{Path: "color.primary", Value: tokens.ColorValue{Raw: "#635bff"}, Usage: 40, Confidence: confidence})
	s.Add(tokens.Token{Path: "color.surface", Value: tokens.ColorValue{Raw: "#0a2540"}, Usage: 20, Confidence: confidence})
	s.Add(tokens.Token{Path: "dimension.space.md", Value: tokens.DimensionValue{Value: 16, Unit: "px"}, Usage: 30, Confidence: confidence})
	s.Sort()
	return s
}

func TestIncrementalDeltaUpdatesRow(t *testing.T) {
	svc, db := newService(t)
	svc.Start()
	t.Cleanup(svc.Stop)
	ctx := context.Background()

	svc.ScanFinished(orchestrator.CompletionDelta{
		Status:          storage.ScanCompleted,
		TokenSetCreated: true,
		TokenCount:      3,
		ConsensusScore:  0.8,
		PerCategory:     map[string]int{"color": 2, "dimension": 1},
	})

	require.Eventually(t, func() bool {
		row, err := db.GetStats(ctx)
		return err == nil && row.TotalScans == 1
	}, 3*time.Second, 20*time.Millisecond)

	row, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.TotalTokenSets)
	assert.Equal(t, int64(3), row.TotalTokens)
	assert.InDelta(t, 0.8, row.AverageConfidence, 1e-9)

	var perCategory map[string]int64
	require.NoError(t, json.Unmarshal([]byte(row.PerCategoryJSON), &perCategory))
	assert.Equal(t, int64(2), perCategory["color"])
	assert.Equal(t, int64(1), perCategory["dimension"])
}

func TestFailedScanCountsScanOnly(t *testing.T) {
	svc, db := newService(t)
	svc.Start()
	t.Cleanup(svc.Stop)
	ctx := context.Background()

	svc.ScanFinished(orchestrator.CompletionDelta{Status: storage.ScanFailed})

	require.Eventually(t, func() bool {
		row, err := db.GetStats(ctx)
		return err == nil && row.TotalScans == 1
	}, 3*time.Second, 20*time.Millisecond)

	row, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, row.TotalTokenSets)
	assert.Zero(t, row.TotalTokens)
}

func TestRecomputeRebuildsFromTables(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	commitSet(t, db, "alpha.test", sampleSet(0.9))
	commitSet(t, db, "beta.test", sampleSet(0.7))

	require.NoError(t, svc.Recompute(ctx))

	row, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.TotalSites)
	assert.Equal(t, int64(2), row.TotalScans)
	assert.Equal(t, int64(2), row.TotalTokenSets)
	assert.Equal(t, int64(6), row.TotalTokens)

	var perCategory map[string]int64
	require.NoError(t, json.Unmarshal([]byte(row.PerCategoryJSON), &perCategory))
	assert.Equal(t, int64(4), perCategory["color"])
	assert.Equal(t, int64(2), perCategory["dimension"])
}

func TestRecomputeCorrectsDrift(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	// Poison the row with numbers the tables do not support.
	require.NoError(t, db.SaveStats(ctx, &storage.StatsRow{
		TotalSites: 99, TotalScans: 99, TotalTokenSets: 99, TotalTokens: 999,
	}))

	commitSet(t, db, "gamma.test", sampleSet(0.8))
	require.NoError(t, svc.Recompute(ctx))

	row, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.TotalSites)
	assert.Equal(t, int64(1), row.TotalScans)
	assert.Equal(t, int64(3), row.TotalTokens)
}

func TestSnapshotServesCachedRow(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	commitSet(t, db, "delta.test", sampleSet(0.8))
	require.NoError(t, svc.Recompute(ctx))

	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.TotalSites)

	// A direct write does not show through the cache until invalidation.
	require.NoError(t, db.SaveStats(ctx, &storage.StatsRow{TotalSites: 42}))
	second, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.TotalSites, second.TotalSites)

	// Recompute invalidates, so the next read is fresh.
	require.NoError(t, svc.Recompute(ctx))
	third, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), third.TotalSites)
}

func TestPeriodicRecomputeRuns(t *testing.T) {
	svc, db := newService(t, stats.WithRecomputeInterval(50*time.Millisecond))
	ctx := context.Background()

	commitSet(t, db, "epsilon.test", sampleSet(0.8))

	svc.Start()
	t.Cleanup(svc.Stop)

	require.Eventually(t, func() bool {
		row, err := db.GetStats(ctx)
		return err == nil && row.TotalTokens == 3
	}, 3*time.Second, 20*time.Millisecond)
}
