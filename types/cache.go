package types

import (
	"context"
	"time"
)

// CacheEntry is one cached value plus its freshness metadata. Each tier keeps
// its own physical copy; entries are never shared across tiers.
type CacheEntry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// IsStale reports whether the entry is past its logical expiry. A stale entry
// may still be served under StaleWhileRevalidate or StaleIfError.
func (e *CacheEntry) IsStale(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// FetchFunc loads a value from the source of truth on a cache miss.
type FetchFunc func(ctx context.Context) (interface{}, error)

type GetOptions struct {
	Fetch        FetchFunc
	Policy       *Policy
	Tags         []string
	Dependencies []string
}

type SetOptions struct {
	Tags         []string
	Dependencies []string
}

// CacheStats are the manager's running counters. Ratios are derived at
// snapshot time, not stored.
type CacheStats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Errors        uint64  `json:"errors"`
	Sets          uint64  `json:"sets"`
	Deletes       uint64  `json:"deletes"`
	Invalidations uint64  `json:"invalidations"`
	HitRatio      float64 `json:"hit_ratio"`
}
