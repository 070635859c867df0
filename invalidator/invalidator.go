package invalidator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// Store is the storage-facing side of the cache manager: raw deletion across
// every tier, without re-entering invalidation bookkeeping.
type Store interface {
	DeleteEverywhere(ctx context.Context, key string) (bool, error)
	ClearEverywhere(ctx context.Context, pattern string) (int, error)
}

// Invalidator tracks tag->keys and dependency relations and resolves bulk
// invalidation requests to concrete key sets. All bookkeeping is local to
// one manager instance; nothing is synchronized across processes.
type Invalidator struct {
	logger  types.Logger
	store   Store
	emitter *types.EventEmitter

	mu         sync.Mutex
	tagKeys    map[string]map[string]struct{}
	keyTags    map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
	keyDeps    map[string]map[string]struct{}
	timers     map[string]*time.Timer
	closed     bool
}

// New fails fast when the store handle is missing: that is a wiring bug, not
// a runtime condition.
func New(store Store, logger types.Logger, emitter *types.EventEmitter) (*Invalidator, error) {
	if store == nil {
		return nil, types.ErrManagerRequired
	}
	if logger == nil {
		return nil, types.ErrLoggerRequired
	}
	if emitter == nil {
		emitter = types.NewEventEmitter()
	}

	return &Invalidator{
		logger:     logger,
		store:      store,
		emitter:    emitter,
		tagKeys:    make(map[string]map[string]struct{}),
		keyTags:    make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		keyDeps:    make(map[string]map[string]struct{}),
		timers:     make(map[string]*time.Timer),
	}, nil
}

// AddTags associates the key with each tag, set-union semantics: already
// present pairs are no-ops.
func (i *Invalidator) AddTags(key string, tags ...string) {
	if key == "" || len(tags) == 0 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if i.tagKeys[tag] == nil {
			i.tagKeys[tag] = make(map[string]struct{})
		}
		i.tagKeys[tag][key] = struct{}{}

		if i.keyTags[key] == nil {
			i.keyTags[key] = make(map[string]struct{})
		}
		i.keyTags[key][tag] = struct{}{}
	}
}

// AddDependencies records that key depends on each of deps; invalidating a
// dependency cascades to its dependents.
func (i *Invalidator) AddDependencies(key string, deps ...string) {
	if key == "" || len(deps) == 0 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, dep := range deps {
		if dep == "" || dep == key {
			continue
		}
		if i.dependents[dep] == nil {
			i.dependents[dep] = make(map[string]struct{})
		}
		i.dependents[dep][key] = struct{}{}

		if i.keyDeps[key] == nil {
			i.keyDeps[key] = make(map[string]struct{})
		}
		i.keyDeps[key][dep] = struct{}{}
	}
}

// InvalidateKey deletes the key from every tier and purges it from all
// bookkeeping, cancelling any scheduled timer. Invalidating an absent key is
// not an error and returns false.
func (i *Invalidator) InvalidateKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	i.mu.Lock()
	i.cancelTimerLocked(key)
	i.mu.Unlock()

	deleted, err := i.store.DeleteEverywhere(ctx, key)
	if err != nil {
		i.logger.Warn("Invalidation delete failed",
			zap.String("key", key),
			zap.Error(err))
	}

	i.mu.Lock()
	i.purgeBookkeepingLocked(key)
	i.mu.Unlock()

	i.emitter.Emit(types.Event{
		Type:  types.EventInvalidation,
		Key:   key,
		Count: boolToCount(deleted),
	})

	return deleted, err
}

// InvalidateTag resolves the tag to its current key set, invalidates every
// key and drops the tag entry: tags are not reusable across invalidation
// epochs, a fresh AddTags call re-registers.
func (i *Invalidator) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return i.InvalidateTags(ctx, tag)
}

func (i *Invalidator) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	keys := make(map[string]struct{})

	i.mu.Lock()
	for _, tag := range tags {
		for key := range i.tagKeys[tag] {
			keys[key] = struct{}{}
		}
	}
	i.mu.Unlock()

	count := 0
	var firstErr error
	for key := range keys {
		deleted, err := i.InvalidateKey(ctx, key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if deleted {
			count++
		}
	}

	i.mu.Lock()
	for _, tag := range tags {
		delete(i.tagKeys, tag)
	}
	i.mu.Unlock()

	return count, firstErr
}

// InvalidateDependents walks the transitive closure of keys depending on the
// given key and invalidates all of them. A visited set guards against cycles
// in the dependency graph.
func (i *Invalidator) InvalidateDependents(ctx context.Context, key string) (int, error) {
	if key == "" {
		return 0, nil
	}

	i.mu.Lock()
	visited := map[string]struct{}{key: {}}
	var closure []string
	queue := []string{key}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for dependent := range i.dependents[current] {
			if _, seen := visited[dependent]; seen {
				continue
			}
			visited[dependent] = struct{}{}
			closure = append(closure, dependent)
			queue = append(queue, dependent)
		}
	}
	i.mu.Unlock()

	count := 0
	var firstErr error
	for _, dependent := range closure {
		deleted, err := i.InvalidateKey(ctx, dependent)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if deleted {
			count++
		}
	}

	return count, firstErr
}

// InvalidatePattern delegates wildcard deletion to the tiers and purges
// matching bookkeeping entries locally.
func (i *Invalidator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	count, err := i.store.ClearEverywhere(ctx, pattern)
	if err != nil {
		i.logger.Warn("Pattern invalidation failed",
			zap.String("pattern", pattern),
			zap.Error(err))
	}

	i.ForgetPattern(pattern)

	i.emitter.Emit(types.Event{
		Type:  types.EventInvalidation,
		Key:   pattern,
		Count: count,
	})

	return count, err
}

// BatchInvalidate invalidates keys sequentially and returns how many were
// actually present, not the list length.
func (i *Invalidator) BatchInvalidate(ctx context.Context, keys []string) (int, error) {
	count := 0
	var firstErr error

	for _, key := range keys {
		deleted, err := i.InvalidateKey(ctx, key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if deleted {
			count++
		}
	}

	return count, firstErr
}

// ScheduleInvalidation arms a one-shot hard-TTL timer for the key.
// Re-scheduling replaces the previous timer; timers never stack.
func (i *Invalidator) ScheduleInvalidation(key string, ttl time.Duration) {
	if key == "" || ttl <= 0 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return
	}

	i.cancelTimerLocked(key)

	i.timers[key] = time.AfterFunc(ttl, func() {
		i.mu.Lock()
		delete(i.timers, key)
		i.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := i.InvalidateKey(ctx, key); err != nil {
			i.logger.Warn("Scheduled invalidation failed",
				zap.String("key", key),
				zap.Error(err))
		}
	})
}

// Forget drops all bookkeeping for a key without touching storage. The
// manager calls it when a key is deleted directly.
func (i *Invalidator) Forget(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.cancelTimerLocked(key)
	i.purgeBookkeepingLocked(key)
}

// ForgetPattern drops bookkeeping for every key matching the glob pattern.
func (i *Invalidator) ForgetPattern(pattern string) {
	re, err := utils.CompilePattern(pattern)
	if err != nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	matched := make(map[string]struct{})
	for key := range i.keyTags {
		if re.MatchString(key) {
			matched[key] = struct{}{}
		}
	}
	for key := range i.keyDeps {
		if re.MatchString(key) {
			matched[key] = struct{}{}
		}
	}
	for key := range i.timers {
		if re.MatchString(key) {
			matched[key] = struct{}{}
		}
	}

	for key := range matched {
		i.cancelTimerLocked(key)
		i.purgeBookkeepingLocked(key)
	}
}

// Close cancels every pending timer and drops all bookkeeping.
func (i *Invalidator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return
	}
	i.closed = true

	for key, timer := range i.timers {
		timer.Stop()
		delete(i.timers, key)
	}

	i.tagKeys = make(map[string]map[string]struct{})
	i.keyTags = make(map[string]map[string]struct{})
	i.dependents = make(map[string]map[string]struct{})
	i.keyDeps = make(map[string]map[string]struct{})
}

// TagCount reports how many keys are currently registered under a tag.
func (i *Invalidator) TagCount(tag string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.tagKeys[tag])
}

// HasScheduled reports whether a hard-TTL timer is pending for the key.
func (i *Invalidator) HasScheduled(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.timers[key]
	return ok
}

func (i *Invalidator) cancelTimerLocked(key string) {
	if timer, ok := i.timers[key]; ok {
		timer.Stop()
		delete(i.timers, key)
	}
}

func (i *Invalidator) purgeBookkeepingLocked(key string) {
	for tag := range i.keyTags[key] {
		delete(i.tagKeys[tag], key)
		if len(i.tagKeys[tag]) == 0 {
			delete(i.tagKeys, tag)
		}
	}
	delete(i.keyTags, key)

	for dep := range i.keyDeps[key] {
		delete(i.dependents[dep], key)
		if len(i.dependents[dep]) == 0 {
			delete(i.dependents, dep)
		}
	}
	delete(i.keyDeps, key)

	for dependent := range i.dependents[key] {
		delete(i.keyDeps[dependent], key)
		if len(i.keyDeps[dependent]) == 0 {
			delete(i.keyDeps, dependent)
		}
	}
	delete(i.dependents, key)
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
