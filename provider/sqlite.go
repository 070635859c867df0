package provider

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type SQLiteConfig struct {
	Path          string `json:"path"`
	SweepSchedule string `json:"sweep_schedule"`
	MaxOpenConns  int    `json:"max_open_conns"`
	BusyTimeoutMS int    `json:"busy_timeout_ms"`
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// SQLite is the persistent tier: a single keyed table with an index on
// expires_at. Physically expired rows are filtered on read and removed by a
// background sweep scheduled with cron, decoupled from request latency.
type SQLite struct {
	ctx     context.Context
	cancel  context.CancelFunc
	name    string
	logger  types.Logger
	config  *SQLiteConfig
	db      *sql.DB
	sweeper *cron.Cron
	closed  int32
	hits    uint64
	misses  uint64
	sweeps  uint64
}

func NewSQLite(ctx context.Context, logger types.Logger, name string, config interface{}) (*SQLite, error) {
	sqlConfig := &SQLiteConfig{
		Path:          "sai-cache.db",
		SweepSchedule: "@every 5m",
		MaxOpenConns:  4,
		BusyTimeoutMS: 5000,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sqlConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite provider config")
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", sqlConfig.Path, sqlConfig.BusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(sqlConfig.MaxOpenConns)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to initialize sqlite schema")
	}

	sqliteCtx, cancel := context.WithCancel(ctx)

	s := &SQLite{
		ctx:    sqliteCtx,
		cancel: cancel,
		name:   name,
		logger: logger,
		config: sqlConfig,
		db:     db,
	}

	s.sweeper = cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger})))
	if _, err := s.sweeper.AddFunc(sqlConfig.SweepSchedule, s.sweep); err != nil {
		cancel()
		_ = db.Close()
		return nil, types.WrapError(err, "invalid sweep schedule")
	}
	s.sweeper.Start()

	logger.Info("SQLite provider started",
		zap.String("provider", name),
		zap.String("path", sqlConfig.Path),
		zap.String("sweep_schedule", sqlConfig.SweepSchedule))

	return s, nil
}

func (s *SQLite) Name() string { return s.name }

func (s *SQLite) Supports(feature types.Feature) bool {
	switch feature {
	case types.FeatureStats, types.FeaturePatternClear, types.FeaturePersistence:
		return true
	default:
		return false
	}
}

func (s *SQLite) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, types.ErrCacheClosed
	}

	var (
		data      []byte
		expiresAt int64
	)

	row := s.db.QueryRowContext(ctx, "SELECT value, expires_at FROM cache_entries WHERE key = ?", key)
	if err := row.Scan(&data, &expiresAt); err != nil {
		if types.IsError(err, sql.ErrNoRows) {
			atomic.AddUint64(&s.misses, 1)
			return nil, nil
		}
		return nil, types.WrapError(err, "failed to read cache entry")
	}

	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			s.logger.Warn("Failed to delete expired row",
				zap.String("provider", s.name),
				zap.String("key", key),
				zap.Error(err))
		}
		atomic.AddUint64(&s.misses, 1)
		return nil, nil
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal(data, &entry); err != nil {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
		atomic.AddUint64(&s.misses, 1)
		return nil, nil
	}

	atomic.AddUint64(&s.hits, 1)
	return &entry, nil
}

func (s *SQLite) Set(ctx context.Context, key string, entry *types.CacheEntry, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if atomic.LoadInt32(&s.closed) == 1 {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, data, now, expiresAt, now)
	if err != nil {
		return types.WrapError(err, "failed to write cache entry")
	}

	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	if err != nil {
		return false, types.WrapError(err, "failed to delete cache entry")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, types.WrapError(err, "failed to read affected rows")
	}

	return affected > 0, nil
}

// Clear maps the glob pattern onto sqlite's native GLOB operator, which uses
// the same `*`/`?` wildcard syntax as the provider contract.
func (s *SQLite) Clear(ctx context.Context, pattern string) (int, error) {
	var (
		result sql.Result
		err    error
	)

	if utils.MatchesAll(pattern) {
		result, err = s.db.ExecContext(ctx, "DELETE FROM cache_entries")
	} else {
		result, err = s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key GLOB ?", pattern)
	}
	if err != nil {
		return 0, types.WrapError(err, "failed to clear cache entries")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, types.WrapError(err, "failed to read affected rows")
	}

	return int(affected), nil
}

func (s *SQLite) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	sweepCtx := s.sweeper.Stop()
	select {
	case <-sweepCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("SQLite sweep stop timeout", zap.String("provider", s.name))
	}

	s.cancel()

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite provider closed", zap.String("provider", s.name))
	return nil
}

func (s *SQLite) Stats() types.ProviderStats {
	stats := types.ProviderStats{
		Hits:   atomic.LoadUint64(&s.hits),
		Misses: atomic.LoadUint64(&s.misses),
	}

	row := s.db.QueryRowContext(s.ctx, "SELECT COUNT(*) FROM cache_entries")
	var count int
	if err := row.Scan(&count); err == nil {
		stats.Entries = count
	}

	return stats
}

func (s *SQLite) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?",
		time.Now().UnixNano())
	if err != nil {
		s.logger.Error("SQLite sweep failed",
			zap.String("provider", s.name),
			zap.Error(err))
		return
	}

	atomic.AddUint64(&s.sweeps, 1)

	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		s.logger.Debug("SQLite sweep completed",
			zap.String("provider", s.name),
			zap.Int64("swept_rows", affected))
	}
}
