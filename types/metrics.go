package types

import (
	"time"
)

// MonitorMetrics is the always-exact counter snapshot with derived ratios,
// recomputed on each aggregation tick.
type MonitorMetrics struct {
	Hits          uint64        `json:"hits"`
	Misses        uint64        `json:"misses"`
	Sets          uint64        `json:"sets"`
	Deletes       uint64        `json:"deletes"`
	Clears        uint64        `json:"clears"`
	Errors        uint64        `json:"errors"`
	Refreshes     uint64        `json:"refreshes"`
	Invalidations uint64        `json:"invalidations"`
	HitRatio      float64       `json:"hit_ratio"`
	MissRatio     float64       `json:"miss_ratio"`
	ErrorRate     float64       `json:"error_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	AggregatedAt  time.Time     `json:"aggregated_at"`
}

// KeyAccess is one row of the hot/cold key tables.
type KeyAccess struct {
	Key       string `json:"key"`
	Count     uint64 `json:"count"`
	SizeBytes int64  `json:"size_bytes"`
}

// DetailedMetrics adds the sampled breakdowns kept only in detailed mode.
type DetailedMetrics struct {
	MonitorMetrics
	HotKeys        []KeyAccess `json:"hot_keys"`
	ColdKeys       []KeyAccess `json:"cold_keys"`
	TrackedKeys    int         `json:"tracked_keys"`
	LatencySamples int         `json:"latency_samples"`
	SampleRate     float64     `json:"sample_rate"`
}

// MetricValue is one externally-visible metric row, suitable for
// serialization into an HTTP response.
type MetricValue struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help"`
}
