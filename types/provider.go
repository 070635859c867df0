package types

import (
	"context"
	"time"
)

// Feature names an optional provider capability the manager can probe for
// without depending on a concrete tier type.
type Feature string

const (
	FeatureStats        Feature = "stats"
	FeaturePatternClear Feature = "pattern_clear"
	FeaturePersistence  Feature = "persistence"
)

// CacheProvider is the contract every storage tier satisfies.
//
// Get returns (nil, nil) on an ordinary miss; an error means the tier itself
// failed (transport, storage) and the caller decides whether that is fatal.
// The ttl passed to Set is the physical retention the tier enforces with its
// own bookkeeping; logical freshness lives in the entry metadata.
type CacheProvider interface {
	Name() string
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) (int, error)
	Supports(feature Feature) bool
	Close() error
}

// ProviderCreator builds a custom tier from its raw config section.
type ProviderCreator func(config interface{}) (CacheProvider, error)

// StatsProvider is implemented by tiers that support FeatureStats.
type StatsProvider interface {
	Stats() ProviderStats
}

type ProviderStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	SizeBytes int64  `json:"size_bytes"`
}
