package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestMemory(t *testing.T, config interface{}) *Memory {
	t.Helper()

	m, err := NewMemory(context.Background(), logger.NewNopLogger(), "memory", config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m
}

func testEntry(key string, value interface{}, ttl time.Duration) *types.CacheEntry {
	now := time.Now()
	return &types.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemorySetGet(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	entry, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "v", entry.Value)
}

func TestMemoryMissReturnsNil(t *testing.T) {
	m := newTestMemory(t, nil)

	entry, err := m.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemoryPhysicalExpiry(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", testEntry("k", "v", 10*time.Millisecond), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	entry, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemoryStaleEntryRetrievableWithinStorageTTL(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	// Logically expired but physically retained: the tier returns it and
	// the manager decides whether staleness is acceptable.
	require.NoError(t, m.Set(ctx, "k", testEntry("k", "v", 10*time.Millisecond), time.Minute))
	time.Sleep(30 * time.Millisecond)

	entry, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.IsStale(time.Now()))
}

func TestMemoryDelete(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	deleted, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryClearPattern(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "product:1"} {
		require.NoError(t, m.Set(ctx, key, testEntry(key, key, time.Minute), time.Minute))
	}

	count, err := m.Clear(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entry, err := m.Get(ctx, "product:1")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestMemoryClearAll(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, key, testEntry(key, key, time.Minute), time.Minute))
	}

	count, err := m.Clear(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Zero(t, m.Stats().Entries)
}

func TestMemoryLRUEviction(t *testing.T) {
	m := newTestMemory(t, map[string]interface{}{"max_entries": 3})
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, key, testEntry(key, key, time.Minute), time.Minute))
	}

	// Touch "a" so "b" becomes the least recently used.
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "d", testEntry("d", "d", time.Minute), time.Minute))

	entry, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, entry, "least recently used entry should be evicted")

	for _, key := range []string{"a", "c", "d"} {
		entry, err := m.Get(ctx, key)
		require.NoError(t, err)
		assert.NotNil(t, entry, "key %s should survive", key)
	}

	assert.Equal(t, uint64(1), m.Stats().Evictions)
}

func TestMemoryMemoryBoundEviction(t *testing.T) {
	m := newTestMemory(t, map[string]interface{}{
		"max_entries": 0,
		"max_memory":  64,
	})
	ctx := context.Background()

	payload := make([]byte, 48)
	require.NoError(t, m.Set(ctx, "first", testEntry("first", payload, time.Minute), time.Minute))
	require.NoError(t, m.Set(ctx, "second", testEntry("second", payload, time.Minute), time.Minute))

	entry, err := m.Get(ctx, "first")
	require.NoError(t, err)
	assert.Nil(t, entry, "oldest entry should be evicted to fit the byte budget")
}

func TestMemoryStats(t *testing.T) {
	m := newTestMemory(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	_, err := m.Get(ctx, "k")
	require.NoError(t, err)
	_, err = m.Get(ctx, "absent")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestMemorySupports(t *testing.T) {
	m := newTestMemory(t, nil)

	assert.True(t, m.Supports(types.FeatureStats))
	assert.True(t, m.Supports(types.FeaturePatternClear))
	assert.False(t, m.Supports(types.FeaturePersistence))
}

func TestMemoryClosedRejectsOperations(t *testing.T) {
	m, err := NewMemory(context.Background(), logger.NewNopLogger(), "memory", nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, types.ErrCacheClosed)

	err = m.Set(context.Background(), "k", testEntry("k", "v", time.Minute), time.Minute)
	assert.ErrorIs(t, err, types.ErrCacheClosed)
}
