package cssstore_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssstore"
	"github.com/tokenlens/tokenlens/internal/storage"
)

func openTestStore(t *testing.T) (*cssstore.Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(context.Background(), config.DatabaseConfig{
		URL: filepath.Join(t.TempDir(), "cssstore.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := cssstore.New(db, config.CSSStoreConfig{TTLDays: 30})
	require.NoError(t, err)
	return s, db
}

// ===== PUT / GET TESTS =====

func TestPutDeduplicatesByContent(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	body := []byte(".btn { color: #635bff; }")

	first, err := s.Put(ctx, body)
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Len(t, first.SHA, 64)

	second, err := s.Put(ctx, body)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.SHA, second.SHA)

	meta, err := s.Meta(ctx, first.SHA)
	require.NoError(t, err)
	assert.EqualValues(t, 2, meta.ReferenceCount, "every put moves the refcount")
}

func TestPutNormalizesBeforeHashing(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	plain, err := s.Put(ctx, []byte("a { top: 0; }\nb { left: 0; }\n"))
	require.NoError(t, err)

	// Same content with a BOM, CRLF endings, and a stray bare CR.
	crlf, err := s.Put(ctx, append([]byte{0xEF, 0xBB, 0xBF}, []byte("a { top: 0; }\r\nb { left: 0; }\r")...))
	require.NoError(t, err)

	assert.Equal(t, plain.SHA, crlf.SHA, "transport cosmetics must not defeat dedup")
	assert.True(t, crlf.Hit)
}

func TestGetRoundTrips(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	// Large repetitive body compresses; tiny body stores raw. Both must
	// round-trip byte-identically after normalization.
	large := bytes.Repeat([]byte(".card { margin: 16px; padding: 8px; }\n"), 500)
	tiny := []byte("a{}")

	for _, body := range [][]byte{large, tiny} {
		res, err := s.Put(ctx, body)
		require.NoError(t, err)

		got, err := s.Get(ctx, res.SHA)
		require.NoError(t, err)
		assert.Equal(t, cssstore.Normalize(body), got)
	}

	res, err := s.Put(ctx, large)
	require.NoError(t, err)
	assert.Less(t, res.StoredBytes, res.OriginalBytes, "repetitive css should compress")
}

func TestGetMissing(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ===== RELEASE / SWEEP TESTS =====

func TestReleaseNeverGoesNegativeAndNeverDeletes(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	res, err := s.Put(ctx, []byte("p { margin: 0; }"))
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, res.SHA))
	require.NoError(t, s.Release(ctx, res.SHA)) // already at zero

	meta, err := s.Meta(ctx, res.SHA)
	require.NoError(t, err, "release must not delete the body")
	assert.EqualValues(t, 0, meta.ReferenceCount)

	_, err = s.Get(ctx, res.SHA)
	assert.NoError(t, err, "zero-ref content stays readable until swept")
}

func ageRow(t *testing.T, db *storage.DB, sha string, days int) {
	t.Helper()
	_, err := db.Handle().Exec(
		`UPDATE css_content SET last_accessed_ms = last_accessed_ms - ? WHERE sha = ?`,
		int64(days)*24*60*60*1000, sha)
	require.NoError(t, err)
}

func TestSweepDeletesOnlyExpiredUnreferenced(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	expired, err := s.Put(ctx, []byte(".old { color: red; }"))
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, expired.SHA))
	ageRow(t, db, expired.SHA, 31)

	fresh, err := s.Put(ctx, []byte(".new { color: blue; }"))
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, fresh.SHA)) // zero refs but inside TTL

	held, err := s.Put(ctx, []byte(".held { color: green; }"))
	require.NoError(t, err)
	ageRow(t, db, held.SHA, 31) // old but still referenced

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)
	assert.EqualValues(t, 3, res.Scanned)

	_, err = s.Meta(ctx, expired.SHA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Meta(ctx, fresh.SHA)
	assert.NoError(t, err)
	_, err = s.Meta(ctx, held.SHA)
	assert.NoError(t, err)
}

func TestPutAfterSweepReinserts(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()
	body := []byte(".back { display: flex; }")

	res, err := s.Put(ctx, body)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, res.SHA))
	ageRow(t, db, res.SHA, 31)

	swept, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, swept.Deleted)

	again, err := s.Put(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, res.SHA, again.SHA)
	assert.False(t, again.Hit, "post-sweep put is a fresh insert")

	meta, err := s.Meta(ctx, again.SHA)
	require.NoError(t, err)
	assert.EqualValues(t, 1, meta.ReferenceCount)
}
