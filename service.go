package saiCache

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/exporter"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/monitor"
	"github.com/saiset-co/sai-cache/provider"
	"github.com/saiset-co/sai-cache/types"
)

// Service is the fully wired cache stack: logger, storage tiers, manager,
// and the optional monitor and exporter, all built from one config.
type Service struct {
	logger   types.Logger
	manager  *cache.Manager
	monitor  *monitor.Monitor
	exporter *exporter.PrometheusExporter
}

// NewService builds the stack from a loaded config. Tiers are instantiated
// in ascending priority order; a tier that fails to construct aborts the
// whole build, tearing down the tiers created before it.
func NewService(ctx context.Context, cfg *types.Config) (*Service, error) {
	if cfg == nil || cfg.Cache == nil {
		return nil, types.ErrConfigIsNil
	}

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to build logger")
	}

	providerConfigs := make([]*types.ProviderConfig, len(cfg.Cache.Providers))
	copy(providerConfigs, cfg.Cache.Providers)
	sort.SliceStable(providerConfigs, func(i, j int) bool {
		return providerConfigs[i].Priority < providerConfigs[j].Priority
	})

	var providers []types.CacheProvider
	closeAll := func() {
		for _, p := range providers {
			if err := p.Close(); err != nil {
				log.Warn("Failed to close provider during teardown",
					zap.String("provider", p.Name()),
					zap.Error(err))
			}
		}
	}

	for _, pc := range providerConfigs {
		p, err := provider.New(ctx, log, pc)
		if err != nil {
			closeAll()
			return nil, types.WrapError(err, "failed to create provider "+pc.Name)
		}
		providers = append(providers, p)
	}

	defaultPolicy := types.PolicyDynamic
	if cfg.Cache.DefaultPolicy != "" {
		p, ok := types.PolicyByName(cfg.Cache.DefaultPolicy)
		if !ok {
			closeAll()
			return nil, types.Errorf(types.ErrPolicyUnknown, "policy: %s", cfg.Cache.DefaultPolicy)
		}
		defaultPolicy = p
	}

	manager, err := cache.NewManager(ctx, log, defaultPolicy, providers...)
	if err != nil {
		closeAll()
		return nil, err
	}

	s := &Service{
		logger:  log,
		manager: manager,
	}

	monitorEnabled := cfg.Monitor != nil && cfg.Monitor.Enabled
	exporterEnabled := cfg.Exporter != nil && cfg.Exporter.Enabled

	// The exporter reads monitor snapshots, so enabling it implies a
	// monitor even when the monitor section is off.
	if monitorEnabled || exporterEnabled {
		mon, err := monitor.NewMonitor(ctx, log, cfg.Monitor, manager)
		if err != nil {
			_ = manager.Close()
			return nil, err
		}
		s.monitor = mon
	}

	if exporterEnabled {
		exp, err := exporter.NewPrometheusExporter(ctx, log, cfg.Exporter, s.monitor)
		if err != nil {
			_ = manager.Close()
			return nil, err
		}
		s.exporter = exp
	}

	return s, nil
}

// NewServiceFromFile loads, validates and wires in one call.
func NewServiceFromFile(ctx context.Context, configPath string) (*Service, error) {
	cfg, err := config.NewLoader().LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	return NewService(ctx, cfg)
}

// Start launches the monitor and exporter loops. The manager itself needs no
// start: it serves requests from construction.
func (s *Service) Start() error {
	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			return err
		}
	}
	if s.exporter != nil {
		if err := s.exporter.Start(); err != nil {
			if s.monitor != nil {
				_ = s.monitor.Stop()
			}
			return err
		}
	}
	return nil
}

// Close stops the observability loops and shuts down the manager with every
// tier behind it.
func (s *Service) Close() error {
	if s.exporter != nil && s.exporter.IsRunning() {
		if err := s.exporter.Stop(); err != nil {
			s.logger.Warn("Failed to stop exporter", zap.Error(err))
		}
	}
	if s.monitor != nil && s.monitor.IsRunning() {
		if err := s.monitor.Stop(); err != nil {
			s.logger.Warn("Failed to stop monitor", zap.Error(err))
		}
	}
	return s.manager.Close()
}

func (s *Service) Cache() *cache.Manager { return s.manager }

func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

func (s *Service) Exporter() *exporter.PrometheusExporter { return s.exporter }

func (s *Service) Logger() types.Logger { return s.logger }
