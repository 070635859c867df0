package provider

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
	ReconnectBackoff   time.Duration `json:"reconnect_backoff"`
	MaxReconnectWait   time.Duration `json:"max_reconnect_wait"`
	ScanBatchSize      int64         `json:"scan_batch_size"`
}

// Redis is the distributed tier. While the connection is down every
// operation fails closed immediately; a reconnect loop with exponential
// backoff runs off the request path and flips the tier back to available.
type Redis struct {
	ctx         context.Context
	cancel      context.CancelFunc
	name        string
	logger      types.Logger
	config      *RedisConfig
	client      *redis.Client
	available   int32
	closed      int32
	hits        uint64
	misses      uint64
	reconnectCh chan struct{}
	shutdownCh  chan struct{}
	loopDone    chan struct{}
}

func NewRedis(ctx context.Context, logger types.Logger, name string, config interface{}) (*Redis, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-cache",
		ReconnectBackoff:   time.Second,
		MaxReconnectWait:   30 * time.Second,
		ScanBatchSize:      100,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis provider config")
		}
	}

	redisCtx, cancel := context.WithCancel(ctx)

	r := &Redis{
		ctx:         redisCtx,
		cancel:      cancel,
		name:        name,
		logger:      logger,
		config:      redisConfig,
		available:   1,
		reconnectCh: make(chan struct{}, 1),
		shutdownCh:  make(chan struct{}),
		loopDone:    make(chan struct{}),
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	if err := r.ping(); err != nil {
		cancel()
		_ = r.client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	go r.reconnectLoop()

	return r, nil
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) Supports(feature types.Feature) bool {
	switch feature {
	case types.FeatureStats, types.FeaturePatternClear:
		return true
	default:
		return false
	}
}

func (r *Redis) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}
	if !r.isAvailable() {
		return nil, types.ErrProviderUnavailable
	}

	fullKey := r.buildFullKey(key)

	result, err := r.client.Get(ctx, fullKey).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			atomic.AddUint64(&r.misses, 1)
			return nil, nil
		}
		r.markUnavailable(err)
		return nil, types.WrapError(err, "failed to get cache entry")
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry, dropping key",
			zap.String("provider", r.name),
			zap.String("key", key),
			zap.Error(err))
		r.client.Del(ctx, fullKey)
		atomic.AddUint64(&r.misses, 1)
		return nil, nil
	}

	atomic.AddUint64(&r.hits, 1)
	return &entry, nil
}

func (r *Redis) Set(ctx context.Context, key string, entry *types.CacheEntry, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if !r.isAvailable() {
		return types.ErrProviderUnavailable
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), data, ttl).Err(); err != nil {
		r.markUnavailable(err)
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	if !r.isAvailable() {
		return false, types.ErrProviderUnavailable
	}

	deleted, err := r.client.Del(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		r.markUnavailable(err)
		return false, types.WrapError(err, "failed to delete cache key")
	}

	return deleted > 0, nil
}

// Clear relies on redis MATCH glob semantics, which already cover the `*`
// and `?` wildcards of the provider contract.
func (r *Redis) Clear(ctx context.Context, pattern string) (int, error) {
	if !r.isAvailable() {
		return 0, types.ErrProviderUnavailable
	}

	if pattern == "" {
		pattern = "*"
	}
	match := r.buildFullKey(pattern)

	var cursor uint64
	count := 0

	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, r.config.ScanBatchSize).Result()
		if err != nil {
			r.markUnavailable(err)
			return count, types.WrapError(err, "failed to scan cache keys")
		}

		if len(keys) > 0 {
			deleted, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				r.markUnavailable(err)
				return count, types.WrapError(err, "failed to delete scanned keys")
			}
			count += int(deleted)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return count, nil
}

func (r *Redis) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}

	close(r.shutdownCh)
	r.cancel()

	select {
	case <-r.loopDone:
	case <-time.After(5 * time.Second):
		r.logger.Warn("Redis reconnect loop stop timeout", zap.String("provider", r.name))
	}

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis provider closed", zap.String("provider", r.name))
	return nil
}

func (r *Redis) Stats() types.ProviderStats {
	stats := types.ProviderStats{
		Hits:   atomic.LoadUint64(&r.hits),
		Misses: atomic.LoadUint64(&r.misses),
	}

	if r.isAvailable() {
		ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
		defer cancel()
		if size, err := r.client.DBSize(ctx).Result(); err == nil {
			stats.Entries = int(size)
		}
	}

	return stats
}

func (r *Redis) isAvailable() bool {
	return atomic.LoadInt32(&r.available) == 1
}

func (r *Redis) markUnavailable(err error) {
	if atomic.CompareAndSwapInt32(&r.available, 1, 0) {
		r.logger.Warn("Redis provider marked unavailable",
			zap.String("provider", r.name),
			zap.Error(err))

		select {
		case r.reconnectCh <- struct{}{}:
		default:
		}
	}
}

func (r *Redis) reconnectLoop() {
	defer close(r.loopDone)

	for {
		select {
		case <-r.shutdownCh:
			return
		case <-r.ctx.Done():
			return
		case <-r.reconnectCh:
		}

		backoff := r.config.ReconnectBackoff
		for {
			select {
			case <-r.shutdownCh:
				return
			case <-r.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := r.ping(); err == nil {
				atomic.StoreInt32(&r.available, 1)
				r.logger.Info("Redis provider reconnected", zap.String("provider", r.name))
				break
			}

			backoff *= 2
			if backoff > r.config.MaxReconnectWait {
				backoff = r.config.MaxReconnectWait
			}
			r.logger.Debug("Redis reconnect attempt failed",
				zap.String("provider", r.name),
				zap.Duration("next_attempt_in", backoff))
		}
	}
}

func (r *Redis) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *Redis) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}
