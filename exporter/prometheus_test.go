package exporter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type fakeSource struct {
	mu      sync.Mutex
	metrics types.MonitorMetrics
	samples []time.Duration
}

func (f *fakeSource) GetMetrics() types.MonitorMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeSource) DrainLatencySamples() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	samples := f.samples
	f.samples = nil
	return samples
}

func (f *fakeSource) set(metrics types.MonitorMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = metrics
}

func newTestExporter(t *testing.T, source MetricsSource) *PrometheusExporter {
	t.Helper()

	e, err := NewPrometheusExporter(context.Background(), logger.NewNopLogger(),
		&types.ExporterConfig{Namespace: "test_cache"}, source)
	require.NoError(t, err)

	return e
}

func metricValue(t *testing.T, e *PrometheusExporter, name string, labels map[string]string) float64 {
	t.Helper()

	data, err := e.GetMetrics()
	require.NoError(t, err)

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &values))

	for _, v := range values {
		if v.Name != name {
			continue
		}
		match := true
		for key, want := range labels {
			if v.Labels[key] != want {
				match = false
				break
			}
		}
		if match {
			return v.Value
		}
	}

	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestNewPrometheusExporterValidation(t *testing.T) {
	_, err := NewPrometheusExporter(context.Background(), nil, nil, &fakeSource{})
	assert.ErrorIs(t, err, types.ErrLoggerRequired)

	_, err = NewPrometheusExporter(context.Background(), logger.NewNopLogger(), nil, nil)
	assert.ErrorIs(t, err, types.ErrMonitorRequired)

	_, err = NewPrometheusExporter(context.Background(), logger.NewNopLogger(),
		&types.ExporterConfig{Interval: "bogus"}, &fakeSource{})
	assert.Error(t, err)
}

func TestExporterCollect(t *testing.T) {
	source := &fakeSource{}
	e := newTestExporter(t, source)

	source.set(types.MonitorMetrics{
		Hits:     5,
		Misses:   2,
		HitRatio: 5.0 / 7.0,
	})
	e.Collect()

	hits := metricValue(t, e, "test_cache_operations_total", map[string]string{"operation": "hit"})
	assert.Equal(t, float64(5), hits)

	ratio := metricValue(t, e, "test_cache_hit_ratio", nil)
	assert.InDelta(t, 5.0/7.0, ratio, 0.0001)
}

func TestExporterCountersMonotonicAcrossReset(t *testing.T) {
	source := &fakeSource{}
	e := newTestExporter(t, source)

	source.set(types.MonitorMetrics{Hits: 5})
	e.Collect()

	// The monitor was reset: the snapshot went backwards. The exporter
	// counter must keep climbing, never drop.
	source.set(types.MonitorMetrics{Hits: 2})
	e.Collect()

	hits := metricValue(t, e, "test_cache_operations_total", map[string]string{"operation": "hit"})
	assert.Equal(t, float64(7), hits)

	source.set(types.MonitorMetrics{Hits: 4})
	e.Collect()

	hits = metricValue(t, e, "test_cache_operations_total", map[string]string{"operation": "hit"})
	assert.Equal(t, float64(9), hits)
}

func TestExporterLatencyHistogram(t *testing.T) {
	source := &fakeSource{}
	source.samples = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	e := newTestExporter(t, source)

	e.Collect()

	count := metricValue(t, e, "test_cache_read_latency_seconds", nil)
	assert.Equal(t, float64(2), count)
}

func TestExporterConstLabels(t *testing.T) {
	source := &fakeSource{}
	e, err := NewPrometheusExporter(context.Background(), logger.NewNopLogger(),
		&types.ExporterConfig{
			Namespace: "test_cache",
			Labels:    map[string]string{"instance": "a"},
		}, source)
	require.NoError(t, err)

	source.set(types.MonitorMetrics{Hits: 1})
	e.Collect()

	hits := metricValue(t, e, "test_cache_operations_total", map[string]string{
		"operation": "hit",
		"instance":  "a",
	})
	assert.Equal(t, float64(1), hits)
}

func TestExporterLifecycle(t *testing.T) {
	source := &fakeSource{}
	e, err := NewPrometheusExporter(context.Background(), logger.NewNopLogger(),
		&types.ExporterConfig{Interval: "10ms"}, source)
	require.NoError(t, err)

	source.set(types.MonitorMetrics{Hits: 3})

	assert.False(t, e.IsRunning())
	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())
	assert.ErrorIs(t, e.Start(), types.ErrAlreadyRunning)

	assert.Eventually(t, func() bool {
		families, err := e.Registry().Gather()
		if err != nil {
			return false
		}
		for _, family := range families {
			if family.GetName() == "sai_cache_operations_total" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	assert.False(t, e.IsRunning())
	assert.ErrorIs(t, e.Stop(), types.ErrNotRunning)
}
