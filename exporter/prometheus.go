package exporter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/monitor"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

const (
	defaultInterval  = 15 * time.Second
	defaultNamespace = "sai_cache"
)

// MetricsSource is the slice of the monitor the exporter consumes: counter
// snapshots plus the drained latency samples.
type MetricsSource interface {
	GetMetrics() types.MonitorMetrics
	DrainLatencySamples() []time.Duration
}

var _ MetricsSource = (*monitor.Monitor)(nil)

// PrometheusExporter bridges monitor snapshots into a private prometheus
// registry. Operation counters stay monotonic across monitor resets: each
// collection applies the positive delta since the previous snapshot, and a
// snapshot that went backwards is treated as a fresh baseline.
type PrometheusExporter struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	source MetricsSource

	interval time.Duration
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	hitRatio   prometheus.Gauge
	missRatio  prometheus.Gauge
	errorRate  prometheus.Gauge
	avgLatency prometheus.Gauge
	latency    prometheus.Histogram

	mu   sync.Mutex
	prev types.MonitorMetrics

	running  int32
	stopCh   chan struct{}
	loopDone chan struct{}

	httpServer *metricsServer
}

func NewPrometheusExporter(ctx context.Context, logger types.Logger, config *types.ExporterConfig, source MetricsSource) (*PrometheusExporter, error) {
	if logger == nil {
		return nil, types.ErrLoggerRequired
	}
	if source == nil {
		return nil, types.ErrMonitorRequired
	}
	if config == nil {
		config = &types.ExporterConfig{}
	}

	interval := defaultInterval
	if config.Interval != "" {
		parsed, err := time.ParseDuration(config.Interval)
		if err != nil {
			return nil, types.WrapError(err, "invalid exporter interval")
		}
		interval = parsed
	}

	namespace := config.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	exporterCtx, cancel := context.WithCancel(ctx)

	e := &PrometheusExporter{
		ctx:      exporterCtx,
		cancel:   cancel,
		logger:   logger,
		source:   source,
		interval: interval,
		registry: prometheus.NewRegistry(),
	}

	e.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   config.Subsystem,
		Name:        "operations_total",
		Help:        "Total cache operations by type.",
		ConstLabels: prometheus.Labels(config.Labels),
	}, []string{"operation"})

	e.hitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   config.Subsystem,
		Name:        "hit_ratio",
		Help:        "Ratio of hits to total reads since the last counter reset.",
		ConstLabels: prometheus.Labels(config.Labels),
	})

	e.missRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   config.Subsystem,
		Name:        "miss_ratio",
		Help:        "Ratio of misses to total reads since the last counter reset.",
		ConstLabels: prometheus.Labels(config.Labels),
	})

	e.errorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   config.Subsystem,
		Name:        "error_rate",
		Help:        "Ratio of tier errors to total operations.",
		ConstLabels: prometheus.Labels(config.Labels),
	})

	e.avgLatency = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   config.Subsystem,
		Name:        "avg_latency_seconds",
		Help:        "Average sampled read latency in the current window.",
		ConstLabels: prometheus.Labels(config.Labels),
	})

	e.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   config.Subsystem,
		Name:        "read_latency_seconds",
		Help:        "Sampled cache read latency.",
		Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		ConstLabels: prometheus.Labels(config.Labels),
	})

	for _, c := range []prometheus.Collector{
		e.operations, e.hitRatio, e.missRatio, e.errorRate, e.avgLatency, e.latency,
	} {
		if err := e.registry.Register(c); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to register collector")
		}
	}

	if config.HTTP != nil && config.HTTP.Enabled {
		e.httpServer = newMetricsServer(logger, config.HTTP, e.registry)
	}

	return e, nil
}

// Registry exposes the private registry, for callers mounting the metrics
// endpoint on their own server.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *PrometheusExporter) Start() error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return types.ErrAlreadyRunning
	}

	e.mu.Lock()
	e.prev = types.MonitorMetrics{}
	e.mu.Unlock()

	e.stopCh = make(chan struct{})
	e.loopDone = make(chan struct{})
	go e.loop(e.stopCh, e.loopDone)

	if e.httpServer != nil {
		if err := e.httpServer.start(); err != nil {
			close(e.stopCh)
			<-e.loopDone
			atomic.StoreInt32(&e.running, 0)
			return err
		}
	}

	e.logger.Info("Prometheus exporter started", zap.Duration("interval", e.interval))
	return nil
}

func (e *PrometheusExporter) Stop() error {
	if !atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		return types.ErrNotRunning
	}

	close(e.stopCh)
	select {
	case <-e.loopDone:
	case <-time.After(5 * time.Second):
		e.logger.Warn("Exporter loop did not stop in time")
	}

	var err error
	if e.httpServer != nil {
		err = e.httpServer.stop()
	}

	e.cancel()
	e.logger.Info("Prometheus exporter stopped")
	return err
}

func (e *PrometheusExporter) IsRunning() bool {
	return atomic.LoadInt32(&e.running) == 1
}

func (e *PrometheusExporter) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Collect()
		case <-stopCh:
			return
		case <-e.ctx.Done():
			return
		}
	}
}

// Collect pulls one snapshot from the monitor and updates every metric. It
// is exported so tests and push-style setups can drive collection directly.
func (e *PrometheusExporter) Collect() {
	current := e.source.GetMetrics()

	e.mu.Lock()
	prev := e.prev
	e.prev = current
	e.mu.Unlock()

	e.operations.WithLabelValues("hit").Add(counterDelta(current.Hits, prev.Hits))
	e.operations.WithLabelValues("miss").Add(counterDelta(current.Misses, prev.Misses))
	e.operations.WithLabelValues("set").Add(counterDelta(current.Sets, prev.Sets))
	e.operations.WithLabelValues("delete").Add(counterDelta(current.Deletes, prev.Deletes))
	e.operations.WithLabelValues("clear").Add(counterDelta(current.Clears, prev.Clears))
	e.operations.WithLabelValues("error").Add(counterDelta(current.Errors, prev.Errors))
	e.operations.WithLabelValues("refresh").Add(counterDelta(current.Refreshes, prev.Refreshes))
	e.operations.WithLabelValues("invalidation").Add(counterDelta(current.Invalidations, prev.Invalidations))

	e.hitRatio.Set(current.HitRatio)
	e.missRatio.Set(current.MissRatio)
	e.errorRate.Set(current.ErrorRate)
	e.avgLatency.Set(current.AvgLatency.Seconds())

	for _, sample := range e.source.DrainLatencySamples() {
		e.latency.Observe(sample.Seconds())
	}
}

// GetMetrics renders the registry contents as serialized metric rows, for
// callers that want the values without scraping the HTTP endpoint.
func (e *PrometheusExporter) GetMetrics() ([]byte, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return nil, types.WrapError(err, "failed to gather metrics")
	}

	var values []types.MetricValue
	now := time.Now()

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			value := types.MetricValue{
				Name:      family.GetName(),
				Type:      family.GetType().String(),
				Labels:    labels,
				Timestamp: now,
				Help:      family.GetHelp(),
			}

			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value.Value = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value.Value = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				value.Value = float64(metric.GetHistogram().GetSampleCount())
			default:
				value.Value = metric.GetUntyped().GetValue()
			}

			values = append(values, value)
		}
	}

	return utils.Marshal(values)
}

// counterDelta keeps prometheus counters monotonic when the underlying
// snapshot resets: a backwards move re-baselines at the current value.
func counterDelta(current, previous uint64) float64 {
	if current >= previous {
		return float64(current - previous)
	}
	return float64(current)
}

func metricsAddr(config *types.MetricsHTTPConfig) string {
	host := config.Host
	port := config.Port
	if port == 0 {
		port = 9091
	}
	return fmt.Sprintf("%s:%d", host, port)
}
