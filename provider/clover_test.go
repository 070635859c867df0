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

// An empty path opens an in-memory clover database.
func newTestClover(t *testing.T) *Clover {
	t.Helper()

	c, err := NewClover(context.Background(), logger.NewNopLogger(), "clover", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestCloverSetGet(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	entry, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "v", entry.Value)
}

func TestCloverUpdateInPlace(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", testEntry("k", "first", time.Minute), time.Minute))
	require.NoError(t, c.Set(ctx, "k", testEntry("k", "second", time.Minute), time.Minute))

	entry, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "second", entry.Value)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCloverPhysicalExpiry(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", testEntry("k", "v", 10*time.Millisecond), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	entry, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCloverDelete(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	deleted, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCloverClearPattern(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "product:1"} {
		require.NoError(t, c.Set(ctx, key, testEntry(key, key, time.Minute), time.Minute))
	}

	count, err := c.Clear(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entry, err := c.Get(ctx, "product:1")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestCloverClearAll(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, key, testEntry(key, key, time.Minute), time.Minute))
	}

	count, err := c.Clear(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Zero(t, c.Stats().Entries)
}

func TestCloverSweepRemovesExpired(t *testing.T) {
	c := newTestClover(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "expired", testEntry("expired", "v", 5*time.Millisecond), 5*time.Millisecond))
	require.NoError(t, c.Set(ctx, "fresh", testEntry("fresh", "v", time.Hour), time.Hour))
	time.Sleep(20 * time.Millisecond)

	c.sweep()

	assert.Equal(t, 1, c.Stats().Entries)

	entry, err := c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestCloverSupports(t *testing.T) {
	c := newTestClover(t)

	assert.True(t, c.Supports(types.FeaturePersistence))
	assert.True(t, c.Supports(types.FeaturePatternClear))
	assert.True(t, c.Supports(types.FeatureStats))
}
