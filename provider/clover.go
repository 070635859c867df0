package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

const cloverCollection = "cache_entries"

type CloverConfig struct {
	Path          string `json:"path"`
	SweepSchedule string `json:"sweep_schedule"`
}

// Clover is a document-store persistent tier. Entries live as documents
// {key, value, created_at, expires_at, updated_at}; an empty path opens an
// in-memory database, which is handy in tests.
type Clover struct {
	ctx     context.Context
	cancel  context.CancelFunc
	name    string
	logger  types.Logger
	config  *CloverConfig
	db      *clover.DB
	sweeper *cron.Cron
	closed  int32
	hits    uint64
	misses  uint64
}

func NewClover(ctx context.Context, logger types.Logger, name string, config interface{}) (*Clover, error) {
	cloverConfig := &CloverConfig{
		SweepSchedule: "@every 5m",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover provider config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	cloverCtx, cancel := context.WithCancel(ctx)

	c := &Clover{
		ctx:    cloverCtx,
		cancel: cancel,
		name:   name,
		logger: logger,
		config: cloverConfig,
		db:     db,
	}

	c.sweeper = cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger})))
	if _, err := c.sweeper.AddFunc(cloverConfig.SweepSchedule, c.sweep); err != nil {
		cancel()
		_ = db.Close()
		return nil, types.WrapError(err, "invalid sweep schedule")
	}
	c.sweeper.Start()

	logger.Info("Clover provider started",
		zap.String("provider", name),
		zap.String("path", cloverConfig.Path))

	return c, nil
}

func (c *Clover) Name() string { return c.name }

func (c *Clover) Supports(feature types.Feature) bool {
	switch feature {
	case types.FeatureStats, types.FeaturePatternClear, types.FeaturePersistence:
		return true
	default:
		return false
	}
}

func (c *Clover) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, types.ErrCacheClosed
	}

	doc, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return nil, types.WrapError(err, "failed to query cache entry")
	}
	if doc == nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	if expiresAt, ok := doc.Get("expires_at").(int64); ok && expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		if _, err := c.deleteByKey(key); err != nil {
			c.logger.Warn("Failed to delete expired document",
				zap.String("provider", c.name),
				zap.String("key", key),
				zap.Error(err))
		}
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	raw, ok := doc.Get("value").(string)
	if !ok {
		_, _ = c.deleteByKey(key)
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(raw), &entry); err != nil {
		_, _ = c.deleteByKey(key)
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	atomic.AddUint64(&c.hits, 1)
	return &entry, nil
}

func (c *Clover) Set(ctx context.Context, key string, entry *types.CacheEntry, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if atomic.LoadInt32(&c.closed) == 1 {
		return types.ErrCacheClosed
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	now := time.Now().UnixNano()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now + ttl.Nanoseconds()
	}

	query := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key))
	count, err := query.Count()
	if err != nil {
		return types.WrapError(err, "failed to count matching documents")
	}

	if count > 0 {
		err = query.Update(map[string]interface{}{
			"value":      string(data),
			"expires_at": expiresAt,
			"updated_at": now,
		})
		if err != nil {
			return types.WrapError(err, "failed to update cache document")
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set("internal_id", uuid.New().String())
	doc.Set("key", key)
	doc.Set("value", string(data))
	doc.Set("created_at", now)
	doc.Set("expires_at", expiresAt)
	doc.Set("updated_at", now)

	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return types.WrapError(err, "failed to insert cache document")
	}

	return nil
}

func (c *Clover) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := c.deleteByKey(key)
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (c *Clover) Clear(ctx context.Context, pattern string) (int, error) {
	if utils.MatchesAll(pattern) {
		query := c.db.Query(cloverCollection)
		count, err := query.Count()
		if err != nil {
			return 0, types.WrapError(err, "failed to count documents")
		}
		if err := query.Delete(); err != nil {
			return 0, types.WrapError(err, "failed to clear collection")
		}
		return count, nil
	}

	re, err := utils.CompilePattern(pattern)
	if err != nil {
		return 0, types.Errorf(types.ErrPatternInvalid, "pattern: %s", pattern)
	}

	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return 0, types.WrapError(err, "failed to list documents")
	}

	count := 0
	for _, doc := range docs {
		key, ok := doc.Get("key").(string)
		if !ok || !re.MatchString(key) {
			continue
		}
		deleted, err := c.deleteByKey(key)
		if err != nil {
			return count, err
		}
		count += deleted
	}

	return count, nil
}

func (c *Clover) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	sweepCtx := c.sweeper.Stop()
	select {
	case <-sweepCtx.Done():
	case <-time.After(5 * time.Second):
		c.logger.Warn("Clover sweep stop timeout", zap.String("provider", c.name))
	}

	c.cancel()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover provider closed", zap.String("provider", c.name))
	return nil
}

func (c *Clover) Stats() types.ProviderStats {
	stats := types.ProviderStats{
		Hits:   atomic.LoadUint64(&c.hits),
		Misses: atomic.LoadUint64(&c.misses),
	}

	if count, err := c.db.Query(cloverCollection).Count(); err == nil {
		stats.Entries = count
	}

	return stats
}

func (c *Clover) deleteByKey(key string) (int, error) {
	query := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key))

	count, err := query.Count()
	if err != nil {
		return 0, types.WrapError(err, "failed to count matching documents")
	}
	if count == 0 {
		return 0, nil
	}

	if err := query.Delete(); err != nil {
		return 0, types.WrapError(err, "failed to delete cache document")
	}

	return count, nil
}

func (c *Clover) sweep() {
	now := time.Now().UnixNano()
	query := c.db.Query(cloverCollection).Where(
		clover.Field("expires_at").Gt(int64(0)).And(clover.Field("expires_at").Lt(now)))

	count, err := query.Count()
	if err != nil {
		c.logger.Error("Clover sweep count failed",
			zap.String("provider", c.name),
			zap.Error(err))
		return
	}
	if count == 0 {
		return
	}

	if err := query.Delete(); err != nil {
		c.logger.Error("Clover sweep failed",
			zap.String("provider", c.name),
			zap.Error(err))
		return
	}

	c.logger.Debug("Clover sweep completed",
		zap.String("provider", c.name),
		zap.Int("swept_documents", count))
}
