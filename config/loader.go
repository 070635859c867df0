package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.Config, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.Load(data)
}

func (l *Loader) Load(data []byte) (*types.Config, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.Config {
	return &types.Config{
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			DefaultPolicy: "dynamic",
		},
		Monitor: &types.MonitorConfig{
			Enabled:           true,
			Interval:          "15s",
			SampleRate:        1.0,
			TopK:              10,
			MaxLatencySamples: 1024,
			MaxTrackedKeys:    10000,
		},
		Exporter: &types.ExporterConfig{
			Enabled:   false,
			Interval:  "15s",
			Namespace: "sai_cache",
			HTTP: &types.MetricsHTTPConfig{
				Enabled: false,
				Host:    "0.0.0.0",
				Port:    9091,
				Path:    "/metrics",
			},
		},
	}
}
