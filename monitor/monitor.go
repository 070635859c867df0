package monitor

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

const (
	defaultInterval          = 15 * time.Second
	defaultTopK              = 10
	defaultMaxLatencySamples = 1024
	defaultMaxTrackedKeys    = 10000
)

type keyStat struct {
	count uint64
	size  int64
}

// Monitor subscribes to cache events and aggregates them into metrics on a
// fixed interval. Operation counters are always exact; latency samples and
// per-key access tracking are probabilistic, controlled by the sample rate,
// and kept only in detailed mode.
type Monitor struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger

	interval          time.Duration
	detailed          bool
	sampleRate        float64
	topK              int
	maxLatencySamples int
	maxTrackedKeys    int

	emitter *types.EventEmitter

	hits          uint64
	misses        uint64
	sets          uint64
	deletes       uint64
	clears        uint64
	errors        uint64
	refreshes     uint64
	invalidations uint64

	mu        sync.Mutex
	latencies []time.Duration
	pending   []time.Duration
	keys      map[string]*keyStat

	running  int32
	stopCh   chan struct{}
	loopDone chan struct{}
}

// NewMonitor attaches to the given event sources. At least one source is
// required: a monitor with nothing to observe is a wiring bug.
func NewMonitor(ctx context.Context, logger types.Logger, config *types.MonitorConfig, sources ...types.EventSource) (*Monitor, error) {
	if logger == nil {
		return nil, types.ErrLoggerRequired
	}
	if len(sources) == 0 {
		return nil, types.ErrSourceRequired
	}
	if config == nil {
		config = &types.MonitorConfig{}
	}

	interval := defaultInterval
	if config.Interval != "" {
		parsed, err := time.ParseDuration(config.Interval)
		if err != nil {
			return nil, types.WrapError(err, "invalid monitor interval")
		}
		interval = parsed
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	topK := config.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	maxLatencySamples := config.MaxLatencySamples
	if maxLatencySamples <= 0 {
		maxLatencySamples = defaultMaxLatencySamples
	}

	maxTrackedKeys := config.MaxTrackedKeys
	if maxTrackedKeys <= 0 {
		maxTrackedKeys = defaultMaxTrackedKeys
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	m := &Monitor{
		ctx:               monitorCtx,
		cancel:            cancel,
		logger:            logger,
		interval:          interval,
		detailed:          config.Detailed,
		sampleRate:        sampleRate,
		topK:              topK,
		maxLatencySamples: maxLatencySamples,
		maxTrackedKeys:    maxTrackedKeys,
		emitter:           types.NewEventEmitter(),
		keys:              make(map[string]*keyStat),
	}

	for _, source := range sources {
		source.On("*", m.observe)
	}

	return m, nil
}

// Start launches the aggregation loop. Counters are collected from the very
// first observed event regardless; the loop only controls the periodic
// snapshot emission.
func (m *Monitor) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrAlreadyRunning
	}

	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})

	go m.loop(m.stopCh, m.loopDone)

	m.logger.Info("Cache monitor started",
		zap.Duration("interval", m.interval),
		zap.Bool("detailed", m.detailed),
		zap.Float64("sample_rate", m.sampleRate))

	return nil
}

func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrNotRunning
	}

	close(m.stopCh)
	select {
	case <-m.loopDone:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Monitor loop did not stop in time")
	}

	m.cancel()
	m.logger.Info("Cache monitor stopped")
	return nil
}

func (m *Monitor) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

// On subscribes to monitor events, "metrics:aggregated" and "metrics:reset".
func (m *Monitor) On(event types.EventType, listener types.EventListener) {
	m.emitter.On(event, listener)
}

func (m *Monitor) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.aggregate()
		case <-stopCh:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) aggregate() {
	metrics := m.snapshot()

	m.emitter.Emit(types.Event{
		Type:  types.EventMetricsAggregated,
		Count: int(metrics.Hits + metrics.Misses),
	})

	m.logger.Debug("Cache metrics aggregated",
		zap.Uint64("hits", metrics.Hits),
		zap.Uint64("misses", metrics.Misses),
		zap.Float64("hit_ratio", metrics.HitRatio))
}

func (m *Monitor) observe(e types.Event) {
	switch e.Type {
	case types.EventHit:
		atomic.AddUint64(&m.hits, 1)
	case types.EventMiss:
		atomic.AddUint64(&m.misses, 1)
	case types.EventSet:
		atomic.AddUint64(&m.sets, 1)
	case types.EventDelete:
		atomic.AddUint64(&m.deletes, 1)
	case types.EventClear:
		atomic.AddUint64(&m.clears, 1)
	case types.EventError:
		atomic.AddUint64(&m.errors, 1)
	case types.EventRefresh:
		atomic.AddUint64(&m.refreshes, 1)
	case types.EventInvalidation:
		if e.Count > 0 {
			atomic.AddUint64(&m.invalidations, uint64(e.Count))
		}
	default:
		return
	}

	if !m.detailed || !m.sampled() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Duration > 0 {
		if len(m.latencies) < m.maxLatencySamples {
			m.latencies = append(m.latencies, e.Duration)
		} else {
			// Ring overwrite keeps the window recent without growing.
			copy(m.latencies, m.latencies[1:])
			m.latencies[len(m.latencies)-1] = e.Duration
		}
		m.pending = append(m.pending, e.Duration)
		if len(m.pending) > m.maxLatencySamples {
			m.pending = m.pending[len(m.pending)-m.maxLatencySamples:]
		}
	}

	if e.Key == "" {
		return
	}
	switch e.Type {
	case types.EventHit, types.EventMiss, types.EventSet:
		stat, ok := m.keys[e.Key]
		if !ok {
			if len(m.keys) >= m.maxTrackedKeys {
				return
			}
			stat = &keyStat{}
			m.keys[e.Key] = stat
		}
		stat.count++
		if e.SizeBytes > 0 {
			stat.size = int64(e.SizeBytes)
		}
	}
}

func (m *Monitor) sampled() bool {
	if m.sampleRate >= 1 {
		return true
	}
	return rand.Float64() < m.sampleRate
}

func (m *Monitor) snapshot() types.MonitorMetrics {
	metrics := types.MonitorMetrics{
		Hits:          atomic.LoadUint64(&m.hits),
		Misses:        atomic.LoadUint64(&m.misses),
		Sets:          atomic.LoadUint64(&m.sets),
		Deletes:       atomic.LoadUint64(&m.deletes),
		Clears:        atomic.LoadUint64(&m.clears),
		Errors:        atomic.LoadUint64(&m.errors),
		Refreshes:     atomic.LoadUint64(&m.refreshes),
		Invalidations: atomic.LoadUint64(&m.invalidations),
		AggregatedAt:  time.Now(),
	}

	reads := metrics.Hits + metrics.Misses
	if reads > 0 {
		metrics.HitRatio = float64(metrics.Hits) / float64(reads)
		metrics.MissRatio = float64(metrics.Misses) / float64(reads)
	}

	total := reads + metrics.Sets + metrics.Deletes + metrics.Clears
	if total > 0 {
		metrics.ErrorRate = float64(metrics.Errors) / float64(total+metrics.Errors)
	}

	m.mu.Lock()
	if n := len(m.latencies); n > 0 {
		var sum time.Duration
		for _, d := range m.latencies {
			sum += d
		}
		metrics.AvgLatency = sum / time.Duration(n)
	}
	m.mu.Unlock()

	return metrics
}

// GetMetrics returns the current counter snapshot, computed on demand rather
// than from the last aggregation tick.
func (m *Monitor) GetMetrics() types.MonitorMetrics {
	return m.snapshot()
}

// GetDetailedMetrics adds the sampled hot and cold key tables. Outside
// detailed mode the tables are empty.
func (m *Monitor) GetDetailedMetrics() types.DetailedMetrics {
	detailed := types.DetailedMetrics{
		MonitorMetrics: m.snapshot(),
		SampleRate:     m.sampleRate,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	detailed.TrackedKeys = len(m.keys)
	detailed.LatencySamples = len(m.latencies)
	detailed.HotKeys = m.topKeysLocked(m.topK, true)
	detailed.ColdKeys = m.topKeysLocked(m.topK, false)

	return detailed
}

// GetStats serializes the metrics, detailed when detailed mode is on.
func (m *Monitor) GetStats() ([]byte, error) {
	if m.detailed {
		return utils.Marshal(m.GetDetailedMetrics())
	}
	return utils.Marshal(m.GetMetrics())
}

// ResetStats zeroes every counter and drops the sampled state.
func (m *Monitor) ResetStats() {
	atomic.StoreUint64(&m.hits, 0)
	atomic.StoreUint64(&m.misses, 0)
	atomic.StoreUint64(&m.sets, 0)
	atomic.StoreUint64(&m.deletes, 0)
	atomic.StoreUint64(&m.clears, 0)
	atomic.StoreUint64(&m.errors, 0)
	atomic.StoreUint64(&m.refreshes, 0)
	atomic.StoreUint64(&m.invalidations, 0)

	m.mu.Lock()
	m.latencies = nil
	m.keys = make(map[string]*keyStat)
	m.mu.Unlock()

	m.emitter.Emit(types.Event{Type: types.EventMetricsReset})
}

// DrainLatencySamples hands accumulated latency observations to the caller
// and clears the buffer. The exporter uses this to feed its histogram
// without double counting.
func (m *Monitor) DrainLatencySamples() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.pending
	m.pending = nil
	return samples
}

// topKeysLocked selects k keys by access count with a bounded heap, so the
// tracked key map is scanned once without a full sort.
func (m *Monitor) topKeysLocked(k int, hottest bool) []types.KeyAccess {
	if k <= 0 || len(m.keys) == 0 {
		return nil
	}

	h := &keyAccessHeap{min: hottest}
	heap.Init(h)

	for key, stat := range m.keys {
		access := types.KeyAccess{Key: key, Count: stat.count, SizeBytes: stat.size}
		if h.Len() < k {
			heap.Push(h, access)
			continue
		}
		if h.beats(access) {
			h.items[0] = access
			heap.Fix(h, 0)
		}
	}

	result := make([]types.KeyAccess, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(types.KeyAccess)
	}
	return result
}

// keyAccessHeap is a bounded selection heap. With min=true the root is the
// smallest retained count, so it selects the hottest keys; inverted it
// selects the coldest.
type keyAccessHeap struct {
	items []types.KeyAccess
	min   bool
}

func (h *keyAccessHeap) Len() int { return len(h.items) }

func (h *keyAccessHeap) Less(i, j int) bool {
	if h.min {
		return h.items[i].Count < h.items[j].Count
	}
	return h.items[i].Count > h.items[j].Count
}

func (h *keyAccessHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *keyAccessHeap) Push(x interface{}) {
	h.items = append(h.items, x.(types.KeyAccess))
}

func (h *keyAccessHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// beats reports whether the candidate should replace the current root.
func (h *keyAccessHeap) beats(candidate types.KeyAccess) bool {
	if h.min {
		return candidate.Count > h.items[0].Count
	}
	return candidate.Count < h.items[0].Count
}
