package provider

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

const (
	MaxTTL     = 24 * time.Hour
	DefaultTTL = 1 * time.Hour
)

type MemoryConfig struct {
	MaxEntries      int    `json:"max_entries"`
	MaxMemory       int64  `json:"max_memory"`
	CleanupInterval string `json:"cleanup_interval"`
}

// Memory is the in-process tier: a map plus an LRU list, bounded by entry
// count and aggregate payload bytes. Eviction pops the list tail, O(1) per
// insert. Byte accounting is only maintained when MaxMemory is set.
type Memory struct {
	ctx         context.Context
	cancel      context.CancelFunc
	name        string
	logger      types.Logger
	config      *MemoryConfig
	mu          sync.Mutex
	entries     map[string]*list.Element
	lru         *list.List
	sizeBytes   int64
	hits        uint64
	misses      uint64
	evictions   uint64
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closed      int32
}

type memoryItem struct {
	key       string
	entry     *types.CacheEntry
	expiresAt time.Time
	size      int64
}

func NewMemory(ctx context.Context, logger types.Logger, name string, config interface{}) (*Memory, error) {
	memConfig := &MemoryConfig{
		MaxEntries:      10000,
		MaxMemory:       0,
		CleanupInterval: "5m",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory provider config")
		}
	}

	memCtx, cancel := context.WithCancel(ctx)

	m := &Memory{
		ctx:         memCtx,
		cancel:      cancel,
		name:        name,
		logger:      logger,
		config:      memConfig,
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if memConfig.CleanupInterval != "" {
		go m.startCleanupRoutine()
	} else {
		close(m.cleanupDone)
	}

	return m, nil
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Supports(feature types.Feature) bool {
	switch feature {
	case types.FeatureStats, types.FeaturePatternClear:
		return true
	default:
		return false
	}
}

func (m *Memory) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if atomic.LoadInt32(&m.closed) == 1 {
		return nil, types.ErrCacheClosed
	}

	now := time.Now()

	m.mu.Lock()
	elem, exists := m.entries[key]
	if !exists {
		m.mu.Unlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, nil
	}

	item := elem.Value.(*memoryItem)
	if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
		m.removeElementLocked(elem)
		m.mu.Unlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, nil
	}

	m.lru.MoveToFront(elem)
	entry := item.entry
	m.mu.Unlock()

	atomic.AddUint64(&m.hits, 1)
	return entry, nil
}

func (m *Memory) Set(ctx context.Context, key string, entry *types.CacheEntry, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if atomic.LoadInt32(&m.closed) == 1 {
		return types.ErrCacheClosed
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	item := &memoryItem{
		key:       key,
		entry:     entry,
		expiresAt: time.Now().Add(ttl),
	}
	if m.config.MaxMemory > 0 {
		item.size = int64(utils.EstimateSize(entry.Value) + len(key))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.entries[key]; exists {
		m.removeElementLocked(elem)
	}

	m.entries[key] = m.lru.PushFront(item)
	m.sizeBytes += item.size

	for m.overLimitLocked() {
		victim := m.lru.Back()
		if victim == nil {
			break
		}
		m.removeElementLocked(victim)
		atomic.AddUint64(&m.evictions, 1)
	}

	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.entries[key]
	if !exists {
		return false, nil
	}

	m.removeElementLocked(elem)
	return true, nil
}

func (m *Memory) Clear(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if utils.MatchesAll(pattern) {
		count := len(m.entries)
		m.entries = make(map[string]*list.Element)
		m.lru.Init()
		m.sizeBytes = 0
		return count, nil
	}

	re, err := utils.CompilePattern(pattern)
	if err != nil {
		return 0, types.Errorf(types.ErrPatternInvalid, "pattern: %s", pattern)
	}

	count := 0
	for key, elem := range m.entries {
		if re.MatchString(key) {
			m.removeElementLocked(elem)
			count++
		}
	}

	return count, nil
}

func (m *Memory) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}

	m.cancel()

	select {
	case m.stopCleanup <- struct{}{}:
	default:
	}

	select {
	case <-m.cleanupDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Memory cleanup routine stop timeout", zap.String("provider", m.name))
	}

	m.mu.Lock()
	cleared := len(m.entries)
	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	m.sizeBytes = 0
	m.mu.Unlock()

	m.logger.Info("Memory provider closed",
		zap.String("provider", m.name),
		zap.Int("cleared_entries", cleared))
	return nil
}

func (m *Memory) Stats() types.ProviderStats {
	m.mu.Lock()
	entries := len(m.entries)
	size := m.sizeBytes
	m.mu.Unlock()

	return types.ProviderStats{
		Entries:   entries,
		Hits:      atomic.LoadUint64(&m.hits),
		Misses:    atomic.LoadUint64(&m.misses),
		Evictions: atomic.LoadUint64(&m.evictions),
		SizeBytes: size,
	}
}

func (m *Memory) overLimitLocked() bool {
	if m.config.MaxEntries > 0 && len(m.entries) > m.config.MaxEntries {
		return true
	}
	if m.config.MaxMemory > 0 && m.sizeBytes > m.config.MaxMemory {
		return true
	}
	return false
}

func (m *Memory) removeElementLocked(elem *list.Element) {
	item := elem.Value.(*memoryItem)
	delete(m.entries, item.key)
	m.lru.Remove(elem)
	m.sizeBytes -= item.size
}

func (m *Memory) cleanup() {
	now := time.Now()

	m.mu.Lock()
	var expired []*list.Element
	for _, elem := range m.entries {
		item := elem.Value.(*memoryItem)
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			expired = append(expired, elem)
		}
	}
	for _, elem := range expired {
		m.removeElementLocked(elem)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Debug("Memory cleanup completed",
			zap.String("provider", m.name),
			zap.Int("expired_entries", len(expired)))
	}
}

func (m *Memory) startCleanupRoutine() {
	defer close(m.cleanupDone)

	cleanupInterval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 5m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		cleanupInterval = 5 * time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}
