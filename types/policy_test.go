package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyPresets(t *testing.T) {
	assert.Equal(t, 12*time.Hour, PolicyStatic.TTL)
	assert.True(t, PolicyStatic.BackgroundRefresh)

	assert.Equal(t, time.Minute, PolicyDynamic.TTL)
	assert.True(t, PolicyDynamic.StaleWhileRevalidate)

	assert.Equal(t, 5*time.Minute, PolicyUser.TTL)
	assert.False(t, PolicyUser.StaleTolerant())

	assert.Equal(t, 5*time.Second, PolicyMicro.TTL)
	assert.False(t, PolicyMicro.StaleTolerant())
}

func TestPolicySelectionHasNoSideEffects(t *testing.T) {
	p := PolicyDynamic
	p.TTL = time.Hour

	assert.Equal(t, time.Minute, PolicyDynamic.TTL, "presets are values, copies do not mutate them")
}

func TestStorageTTL(t *testing.T) {
	strict := CustomPolicy(time.Minute)
	assert.Equal(t, time.Minute, strict.StorageTTL(time.Minute))

	tolerant := Policy{
		TTL:                  time.Minute,
		StaleWhileRevalidate: true,
	}
	assert.Equal(t, 2*time.Minute, tolerant.StorageTTL(time.Minute),
		"stale window defaults to the TTL")

	explicit := Policy{
		TTL:                  time.Minute,
		StaleTTL:             time.Hour,
		StaleWhileRevalidate: true,
	}
	assert.Equal(t, 30*time.Second+time.Hour, explicit.StorageTTL(30*time.Second))
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"static", "dynamic", "user", "micro"} {
		_, ok := PolicyByName(name)
		assert.True(t, ok, "policy %s", name)
	}

	_, ok := PolicyByName("bogus")
	assert.False(t, ok)
}

func TestCacheEntryIsStale(t *testing.T) {
	now := time.Now()

	fresh := &CacheEntry{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, fresh.IsStale(now))

	stale := &CacheEntry{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, stale.IsStale(now))

	eternal := &CacheEntry{}
	assert.False(t, eternal.IsStale(now))
}
