package version_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/tokens"
	"github.com/tokenlens/tokenlens/internal/version"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), config.DatabaseConfig{
		URL: filepath.Join(t.TempDir(), "version.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func colorSet(pairs ...string) *tokens.Set {
	s := &tokens.Set{}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Add(tokens.Token{
			Path:       "color." + pairs[i],
			Value:      tokens.ColorValue{Raw: pairs[i+1]},
			Usage:      10,
			Confidence: 0.8,
		})
	}
	s.Sort()
	return s
}

func setupScan(t *testing.T, db *storage.DB, domain string) (siteID, scanID string) {
	t.Helper()
	ctx := context.Background()
	site, err := db.UpsertSite(ctx, domain)
	require.NoError(t, err)
	scan, err := db.CreateScan(ctx, site.ID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	return site.ID, scan.ID
}

// ===== EQUALITY RULES =====

func TestColorEqualityUsesDeltaE(t *testing.T) {
	near := version.Equal(tokens.ColorValue{Raw: "#635bff"}, tokens.ColorValue{Raw: "#635bfe"})
	assert.True(t, near, "sub-JND shades are the same token value")

	far := version.Equal(tokens.ColorValue{Raw: "#635bff"}, tokens.ColorValue{Raw: "#6358ef"})
	assert.False(t, far, "a visible shift is a modification")
}

func TestDimensionEqualityCrossesUnits(t *testing.T) {
	assert.True(t, version.Equal(
		tokens.DimensionValue{Value: 16, Unit: "px"},
		tokens.DimensionValue{Value: 1, Unit: "rem"}))
	assert.False(t, version.Equal(
		tokens.DimensionValue{Value: 16, Unit: "px"},
		tokens.DimensionValue{Value: 17, Unit: "px"}))
	assert.True(t, version.Equal(
		tokens.DimensionValue{Value: 0.2, Unit: "s"},
		tokens.DimensionValue{Value: 200, Unit: "ms"}))
}

func TestFamilyEqualityIsIndexWise(t *testing.T) {
	a := tokens.FontFamilyValue{Families: []string{"Inter", "sans-serif"}}
	b := tokens.FontFamilyValue{Families: []string{"Inter", "sans-serif"}}
	c := tokens.FontFamilyValue{Families: []string{"sans-serif", "Inter"}}
	assert.True(t, version.Equal(a, b))
	assert.False(t, version.Equal(a, c), "order matters in a fallback stack")
}

func TestDifferentKindsNeverEqual(t *testing.T) {
	assert.False(t, version.Equal(
		tokens.ColorValue{Raw: "#fff"},
		tokens.DimensionValue{Value: 1, Unit: "px"}))
}

// ===== DIFF =====

func TestDiffClassifiesChanges(t *testing.T) {
	old := colorSet("primary", "#635bff", "secondary", "#0a2540")
	new := colorSet("primary", "#6358ef", "accent", "#00d924")

	d := version.Diff(old, new)
	require.Len(t, d.Modified, 1)
	assert.Equal(t, "color.primary", d.Modified[0].Path)
	assert.Equal(t, "#635bff", d.Modified[0].OldValue)
	assert.Equal(t, "#6358ef", d.Modified[0].NewValue)

	require.Len(t, d.Added, 1)
	assert.Equal(t, "color.accent", d.Added[0].Path)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "color.secondary", d.Removed[0].Path)
}

func TestDiffAgainstNilIsAllAdded(t *testing.T) {
	d := version.Diff(nil, colorSet("primary", "#635bff"))
	assert.Len(t, d.Added, 1)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Modified)
}

// ===== COMMIT =====

func TestFirstCommitIsVersionOneWithoutChanges(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	siteID, scanID := setupScan(t, db, "example.test")

	res, err := version.NewEngine(db).Commit(ctx, siteID, scanID,
		colorSet("primary", "#635bff", "secondary", "#0a2540"), "scanner")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Set.VersionNumber)
	assert.Empty(t, res.Version.PreviousVersionID)
	assert.Equal(t, 2, res.Added, "changelog counts all tokens as added")

	changes, err := db.ListTokenChanges(ctx, res.Version.ID)
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

func TestSecondCommitLinksAndRecordsChanges(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	siteID, scanID := setupScan(t, db, "example.test")
	engine := version.NewEngine(db)

	v1, err := engine.Commit(ctx, siteID, scanID,
		colorSet("primary", "#635bff", "secondary", "#0a2540"), "scanner")
	require.NoError(t, err)

	scan2, err := db.CreateScan(ctx, siteID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	v2, err := engine.Commit(ctx, siteID, scan2.ID,
		colorSet("primary", "#6358ef", "secondary", "#0a2540", "accent", "#00d924"), "scanner")
	require.NoError(t, err)

	assert.Equal(t, 2, v2.Set.VersionNumber)
	assert.Equal(t, v1.Version.ID, v2.Version.PreviousVersionID)
	assert.Equal(t, 1, v2.Added)
	assert.Equal(t, 1, v2.Modified)
	assert.Zero(t, v2.Removed)

	changes, err := db.ListTokenChanges(ctx, v2.Version.ID)
	require.NoError(t, err)
	byType := map[string]storage.TokenChangeRow{}
	for _, c := range changes {
		byType[c.ChangeType] = c
	}
	assert.Equal(t, "color.primary", byType[storage.ChangeModified].TokenPath)
	assert.Equal(t, "#635bff", byType[storage.ChangeModified].OldValue)
	assert.Equal(t, "#6358ef", byType[storage.ChangeModified].NewValue)
	assert.Equal(t, "color.accent", byType[storage.ChangeAdded].TokenPath)
}

func TestNoOpRescanWritesEmptyDiffVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	siteID, scanID := setupScan(t, db, "example.test")
	engine := version.NewEngine(db)

	set := colorSet("primary", "#635bff")
	_, err := engine.Commit(ctx, siteID, scanID, set, "scanner")
	require.NoError(t, err)

	scan2, err := db.CreateScan(ctx, siteID, storage.MethodStatic, "standard")
	require.NoError(t, err)
	v2, err := engine.Commit(ctx, siteID, scan2.ID, set, "scanner")
	require.NoError(t, err)

	assert.True(t, v2.NoChange())
	assert.Equal(t, 2, v2.Set.VersionNumber, "version numbers stay gap-free")
	changes, err := db.ListTokenChanges(ctx, v2.Version.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestVersionNumbersAreGapFreePerSite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	siteID, _ := setupScan(t, db, "example.test")
	engine := version.NewEngine(db)

	for i := 1; i <= 4; i++ {
		scan, err := db.CreateScan(ctx, siteID, storage.MethodStatic, "standard")
		require.NoError(t, err)
		res, err := engine.Commit(ctx, siteID, scan.ID, colorSet("primary", "#635bff"), "scanner")
		require.NoError(t, err)
		assert.Equal(t, i, res.Set.VersionNumber)
	}
}
