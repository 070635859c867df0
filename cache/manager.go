package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/invalidator"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// Manager orchestrates the storage tiers: read-through in priority order with
// upward value propagation, write-through to every tier, fetch-on-miss, and
// the stale-data policies. One manager owns one invalidator and one event
// emitter; there is no shared global state between managers.
type Manager struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        types.Logger
	providers     []types.CacheProvider
	inv           *invalidator.Invalidator
	defaultPolicy types.Policy
	emitter       *types.EventEmitter

	hits          uint64
	misses        uint64
	errors        uint64
	sets          uint64
	deletes       uint64
	invalidations uint64

	bg     sync.WaitGroup
	closed int32

	shutdownTimeout time.Duration
	refreshTimeout  time.Duration
}

// NewManager wires the tiers in the order given: callers pass the fastest
// tier first. Construction fails fast on missing collaborators.
func NewManager(ctx context.Context, logger types.Logger, defaultPolicy types.Policy, providers ...types.CacheProvider) (*Manager, error) {
	if logger == nil {
		return nil, types.ErrLoggerRequired
	}
	if len(providers) == 0 {
		return nil, types.ErrNoProviders
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		providers:       providers,
		defaultPolicy:   defaultPolicy,
		emitter:         types.NewEventEmitter(),
		shutdownTimeout: 10 * time.Second,
		refreshTimeout:  30 * time.Second,
	}

	inv, err := invalidator.New(storeAdapter{m}, logger, m.emitter)
	if err != nil {
		cancel()
		return nil, err
	}
	m.inv = inv

	m.emitter.On(types.EventInvalidation, func(e types.Event) {
		if e.Count > 0 {
			atomic.AddUint64(&m.invalidations, uint64(e.Count))
		}
	})

	return m, nil
}

// storeAdapter exposes only raw tier deletion to the invalidator, so
// invalidation never re-enters bookkeeping through the public API.
type storeAdapter struct {
	m *Manager
}

func (s storeAdapter) DeleteEverywhere(ctx context.Context, key string) (bool, error) {
	return s.m.deleteFromProviders(ctx, key)
}

func (s storeAdapter) ClearEverywhere(ctx context.Context, pattern string) (int, error) {
	return s.m.clearProviders(ctx, pattern)
}

// Get consults tiers in priority order. Tier failures are logged and
// non-fatal; a loader failure on a cold miss propagates to the caller
// unchanged, since the cache cannot fabricate a value.
func (m *Manager) Get(ctx context.Context, key string, opts *types.GetOptions) (interface{}, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}
	if opts == nil {
		opts = &types.GetOptions{}
	}

	policy := m.defaultPolicy
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	now := time.Now()

	for idx, p := range m.providers {
		start := time.Now()
		entry, err := p.Get(ctx, key)
		duration := time.Since(start)

		if err != nil {
			m.recordTierFailure(p, key, err)
			continue
		}
		if entry == nil {
			continue
		}

		if !entry.IsStale(now) {
			atomic.AddUint64(&m.hits, 1)
			m.emitter.Emit(types.Event{
				Type:      types.EventHit,
				Key:       key,
				Provider:  p.Name(),
				Duration:  duration,
				SizeBytes: utils.EstimateSize(entry.Value),
			})

			if idx > 0 {
				m.propagate(entry, idx, policy)
			}
			return entry.Value, nil
		}

		if !policy.StaleWhileRevalidate {
			// Stale and not servable: keep scanning lower tiers for a
			// fresh copy.
			continue
		}

		atomic.AddUint64(&m.hits, 1)
		m.emitter.Emit(types.Event{
			Type:     types.EventHit,
			Key:      key,
			Provider: p.Name(),
			Stale:    true,
			Duration: duration,
		})

		if opts.Fetch != nil {
			if policy.BackgroundRefresh {
				m.revalidateAsync(key, opts, policy)
			} else {
				m.revalidate(ctx, key, opts, policy)
			}
		}
		return entry.Value, nil
	}

	atomic.AddUint64(&m.misses, 1)
	m.emitter.Emit(types.Event{Type: types.EventMiss, Key: key})

	if opts.Fetch == nil {
		return nil, nil
	}

	value, err := opts.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	setOpts := &types.SetOptions{Tags: opts.Tags, Dependencies: opts.Dependencies}
	if err := m.Set(ctx, key, value, &policy, setOpts); err != nil {
		m.logger.Warn("Failed to cache fetched value",
			zap.String("key", key),
			zap.Error(err))
	}

	return value, nil
}

// Set writes the value through to every tier. The entry's logical expiry is
// now+TTL; stale-tolerant policies retain it physically for longer so it
// stays retrievable for revalidation.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, policy *types.Policy, opts *types.SetOptions) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	p := m.defaultPolicy
	if policy != nil {
		p = *policy
	}
	if opts == nil {
		opts = &types.SetOptions{}
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(p.TTL),
	}
	storageTTL := p.StorageTTL(p.TTL)

	written := 0
	for _, provider := range m.providers {
		if err := provider.Set(ctx, key, entry, storageTTL); err != nil {
			m.recordTierFailure(provider, key, err)
			continue
		}
		written++
	}

	if written == 0 {
		return types.Errorf(types.ErrCacheOperationFailed, "no tier accepted key %s", key)
	}

	if len(opts.Tags) > 0 {
		m.inv.AddTags(key, opts.Tags...)
	}
	if len(opts.Dependencies) > 0 {
		m.inv.AddDependencies(key, opts.Dependencies...)
	}
	if p.HardTTL {
		m.inv.ScheduleInvalidation(key, p.TTL)
	}

	atomic.AddUint64(&m.sets, 1)
	m.emitter.Emit(types.Event{
		Type:      types.EventSet,
		Key:       key,
		SizeBytes: utils.EstimateSize(value),
	})

	return nil
}

// Delete removes the key from every tier and drops its invalidation
// bookkeeping, including any scheduled hard-TTL timer. Returns true when at
// least one tier held the key.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := m.deleteFromProviders(ctx, key)

	m.inv.Forget(key)

	atomic.AddUint64(&m.deletes, 1)
	m.emitter.Emit(types.Event{
		Type:  types.EventDelete,
		Key:   key,
		Count: boolToCount(existed),
	})

	return existed, err
}

// Clear removes every key matching the glob pattern from every tier and
// returns the summed count.
func (m *Manager) Clear(ctx context.Context, pattern string) (int, error) {
	count, err := m.clearProviders(ctx, pattern)

	m.inv.ForgetPattern(pattern)

	m.emitter.Emit(types.Event{
		Type:  types.EventClear,
		Key:   pattern,
		Count: count,
	})

	return count, err
}

// CacheResult memoizes an arbitrary computation under the given key.
func (m *Manager) CacheResult(ctx context.Context, fn types.FetchFunc, key string, opts *types.GetOptions) (interface{}, error) {
	if opts == nil {
		opts = &types.GetOptions{}
	}
	resolved := *opts
	resolved.Fetch = fn
	return m.Get(ctx, key, &resolved)
}

// AddTags registers tags for a key independently of set, for services that
// compute keys themselves.
func (m *Manager) AddTags(key string, tags ...string) {
	m.inv.AddTags(key, tags...)
}

func (m *Manager) AddDependencies(key string, deps ...string) {
	m.inv.AddDependencies(key, deps...)
}

func (m *Manager) InvalidateKey(ctx context.Context, key string) (bool, error) {
	return m.inv.InvalidateKey(ctx, key)
}

func (m *Manager) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	return m.inv.InvalidateTag(ctx, tag)
}

func (m *Manager) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	return m.inv.InvalidateTags(ctx, tags...)
}

func (m *Manager) InvalidateDependents(ctx context.Context, key string) (int, error) {
	return m.inv.InvalidateDependents(ctx, key)
}

func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	return m.inv.InvalidatePattern(ctx, pattern)
}

func (m *Manager) BatchInvalidate(ctx context.Context, keys []string) (int, error) {
	return m.inv.BatchInvalidate(ctx, keys)
}

func (m *Manager) ScheduleInvalidation(key string, ttl time.Duration) {
	m.inv.ScheduleInvalidation(key, ttl)
}

// On subscribes a listener to this manager's events.
func (m *Manager) On(event types.EventType, listener types.EventListener) {
	m.emitter.On(event, listener)
}

func (m *Manager) GetStats() types.CacheStats {
	stats := types.CacheStats{
		Hits:          atomic.LoadUint64(&m.hits),
		Misses:        atomic.LoadUint64(&m.misses),
		Errors:        atomic.LoadUint64(&m.errors),
		Sets:          atomic.LoadUint64(&m.sets),
		Deletes:       atomic.LoadUint64(&m.deletes),
		Invalidations: atomic.LoadUint64(&m.invalidations),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(total)
	}

	return stats
}

func (m *Manager) ResetStats() {
	atomic.StoreUint64(&m.hits, 0)
	atomic.StoreUint64(&m.misses, 0)
	atomic.StoreUint64(&m.errors, 0)
	atomic.StoreUint64(&m.sets, 0)
	atomic.StoreUint64(&m.deletes, 0)
	atomic.StoreUint64(&m.invalidations, 0)
}

// Providers exposes the configured tiers in priority order.
func (m *Manager) Providers() []types.CacheProvider {
	return m.providers
}

// Close cancels background work, waits briefly for in-flight refreshes and
// shuts every tier down.
func (m *Manager) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}

	m.cancel()
	m.inv.Close()

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Background cache tasks did not finish before shutdown timeout")
	}

	g := new(errgroup.Group)
	for _, p := range m.providers {
		provider := p
		g.Go(func() error {
			return provider.Close()
		})
	}

	if err := g.Wait(); err != nil {
		return types.WrapError(err, "failed to close cache providers")
	}

	m.logger.Info("Cache manager closed")
	return nil
}

// revalidate refreshes a stale entry before returning control to the caller.
// The caller still receives the stale value it already read; awaiting here
// only guarantees the cache is fresh once the call returns.
func (m *Manager) revalidate(ctx context.Context, key string, opts *types.GetOptions, policy types.Policy) {
	value, err := opts.Fetch(ctx)
	m.finishRevalidation(ctx, key, value, err, opts, policy)
}

// revalidateAsync refreshes a stale entry off the request path. Failures are
// logged, never thrown back into unrelated request paths.
func (m *Manager) revalidateAsync(key string, opts *types.GetOptions, policy types.Policy) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Panic in background revalidation",
					zap.String("key", key),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(m.ctx, m.refreshTimeout)
		defer cancel()

		value, err := opts.Fetch(ctx)
		m.finishRevalidation(ctx, key, value, err, opts, policy)
	}()
}

func (m *Manager) finishRevalidation(ctx context.Context, key string, value interface{}, fetchErr error, opts *types.GetOptions, policy types.Policy) {
	if fetchErr != nil {
		if policy.StaleIfError {
			m.logger.Warn("Revalidation failed, continuing to serve stale value",
				zap.String("key", key),
				zap.Error(fetchErr))
			return
		}

		// Without stale-if-error the entry is invalid from now on:
		// subsequent calls must see an unconditional miss.
		if _, err := m.deleteFromProviders(ctx, key); err != nil {
			m.logger.Warn("Failed to drop entry after revalidation failure",
				zap.String("key", key),
				zap.Error(err))
		}
		m.inv.Forget(key)
		m.logger.Warn("Revalidation failed, entry dropped",
			zap.String("key", key),
			zap.Error(fetchErr))
		return
	}

	if value == nil {
		m.logger.Debug("Revalidation returned no value, keeping stale entry",
			zap.String("key", key))
		return
	}

	setOpts := &types.SetOptions{Tags: opts.Tags, Dependencies: opts.Dependencies}
	if err := m.Set(ctx, key, value, &policy, setOpts); err != nil {
		m.logger.Warn("Failed to store revalidated value",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	m.emitter.Emit(types.Event{Type: types.EventRefresh, Key: key})
}

// propagate writes a value found in a slower tier back into every faster
// tier that missed, off the request path.
func (m *Manager) propagate(entry *types.CacheEntry, upTo int, policy types.Policy) {
	remaining := time.Until(entry.ExpiresAt)
	if remaining <= 0 {
		return
	}
	storageTTL := policy.StorageTTL(remaining)

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, m.refreshTimeout)
		defer cancel()

		for _, p := range m.providers[:upTo] {
			if err := p.Set(ctx, entry.Key, entry, storageTTL); err != nil {
				m.recordTierFailure(p, entry.Key, err)
			}
		}
	}()
}

func (m *Manager) deleteFromProviders(ctx context.Context, key string) (bool, error) {
	existed := false
	var firstErr error

	for _, p := range m.providers {
		deleted, err := p.Delete(ctx, key)
		if err != nil {
			m.recordTierFailure(p, key, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if deleted {
			existed = true
		}
	}

	return existed, firstErr
}

func (m *Manager) clearProviders(ctx context.Context, pattern string) (int, error) {
	// Tiers hold independent physical copies, so per-tier counts double
	// count shared keys; report the maximum instead of the sum.
	maxCount := 0
	var firstErr error

	for _, p := range m.providers {
		count, err := p.Clear(ctx, pattern)
		if err != nil {
			m.recordTierFailure(p, pattern, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if count > maxCount {
			maxCount = count
		}
	}

	return maxCount, firstErr
}

func (m *Manager) recordTierFailure(p types.CacheProvider, key string, err error) {
	atomic.AddUint64(&m.errors, 1)
	m.logger.Debug("Cache tier operation failed",
		zap.String("provider", p.Name()),
		zap.String("key", key),
		zap.Error(err))
	m.emitter.Emit(types.Event{
		Type:     types.EventError,
		Key:      key,
		Provider: p.Name(),
		Err:      err,
	})
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
