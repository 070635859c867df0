package provider

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/utils"
)

// newTestRedis skips the test when no local redis is reachable. Each test
// run works under its own key prefix so parallel runs do not collide.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()

	r, err := NewRedis(context.Background(), logger.NewNopLogger(), "redis", map[string]interface{}{
		"key_prefix":   utils.BuildKey("sai-cache-test", uuid.New().String()),
		"dial_timeout": time.Second,
	})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		_, _ = r.Clear(context.Background(), "*")
		_ = r.Close()
	})

	return r
}

func TestRedisSetGet(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	entry, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "v", entry.Value)
}

func TestRedisMissReturnsNil(t *testing.T) {
	r := newTestRedis(t)

	entry, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisTTLExpiry(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", testEntry("k", "v", 50*time.Millisecond), 50*time.Millisecond))
	time.Sleep(120 * time.Millisecond)

	entry, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisDelete(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", testEntry("k", "v", time.Minute), time.Minute))

	deleted, err := r.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = r.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisClearPattern(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "product:1"} {
		require.NoError(t, r.Set(ctx, key, testEntry(key, key, time.Minute), time.Minute))
	}

	count, err := r.Clear(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entry, err := r.Get(ctx, "product:1")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}
