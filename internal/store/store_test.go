package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/store"
)

// ===== TTL STORE TESTS =====

func TestSetGet(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	defer s.Close()

	require.NoError(t, s.Set("robots:example.test", "allowed"))

	v, ok := s.Get("robots:example.test")
	require.True(t, ok)
	assert.Equal(t, "allowed", v)
}

func TestExpiry(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	defer s.Close()

	require.NoError(t, s.SetWithTTL("k", "v", 10*time.Millisecond))

	_, ok := s.Get("k")
	assert.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	_, ok = s.Get("k")
	assert.False(t, ok, "expired entry must not be served")
}

func TestDelete(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	defer s.Close()

	require.NoError(t, s.Set("k", 42))
	require.NoError(t, s.Delete("k"))

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestMissingKey(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	defer s.Close()

	_, ok := s.Get("absent")
	assert.False(t, ok)
}

func TestCloseIsIdempotentAndDisablesWrites(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.NoError(t, s.Set("k", "v"))
	_, ok := s.Get("k")
	assert.False(t, ok)
}
