package types

// Config is the full YAML-driven wiring of a cache stack: logger, tiers,
// monitor and exporter. Component sub-configs stay generic here and are
// unmarshalled by the component that owns them.
type Config struct {
	Logger   *LoggerConfig   `yaml:"logger" json:"logger"`
	Cache    *CacheConfig    `yaml:"cache" json:"cache" validate:"required"`
	Monitor  *MonitorConfig  `yaml:"monitor" json:"monitor"`
	Exporter *ExporterConfig `yaml:"exporter" json:"exporter"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	DefaultPolicy string            `yaml:"default_policy" json:"default_policy"`
	Providers     []*ProviderConfig `yaml:"providers" json:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig declares one storage tier. Lower priority means faster:
// tiers are consulted in ascending priority order on reads.
type ProviderConfig struct {
	Name     string      `yaml:"name" json:"name" validate:"required"`
	Type     string      `yaml:"type" json:"type" validate:"required"`
	Priority int         `yaml:"priority" json:"priority"`
	Config   interface{} `yaml:"config" json:"config"`
}

type MonitorConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	Interval          string  `yaml:"interval" json:"interval"`
	Detailed          bool    `yaml:"detailed" json:"detailed"`
	SampleRate        float64 `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`
	TopK              int     `yaml:"top_k" json:"top_k"`
	MaxLatencySamples int     `yaml:"max_latency_samples" json:"max_latency_samples"`
	MaxTrackedKeys    int     `yaml:"max_tracked_keys" json:"max_tracked_keys"`
}

type ExporterConfig struct {
	Enabled   bool               `yaml:"enabled" json:"enabled"`
	Interval  string             `yaml:"interval" json:"interval"`
	Namespace string             `yaml:"namespace" json:"namespace"`
	Subsystem string             `yaml:"subsystem" json:"subsystem"`
	Labels    map[string]string  `yaml:"labels" json:"labels"`
	HTTP      *MetricsHTTPConfig `yaml:"http" json:"http"`
}

type MetricsHTTPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Path    string `yaml:"path" json:"path"`
}
