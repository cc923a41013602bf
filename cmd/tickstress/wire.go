package main

import (
	"fmt"

	"go.uber.org/zap"

	"tickstress/internal/admin"
	"tickstress/internal/config"
	"tickstress/internal/harness"
	"tickstress/internal/host"
	"tickstress/internal/metrics"
	"tickstress/internal/pool"
	"tickstress/internal/sampler"
	"tickstress/internal/scenario"
	"tickstress/internal/telemetry"
)

// stack is the wired harness and its collaborators.
type stack struct {
	host      *host.Server
	harness   *harness.Harness
	publisher *telemetry.Publisher
	metrics   *metrics.Collector
	admin     *admin.Server
	cleanup   func()
}

func samplerConfig(cfg *config.HarnessConfig) sampler.Config {
	return sampler.Config{
		WindowTicks: cfg.Sampler.WindowTicks,
		NominalTPS:  cfg.NominalTPS(),
		Intervals:   cfg.Sampler.Intervals,
		TruncateTPS: cfg.Sampler.TruncateTPS,
	}
}

func harnessOptions(cfg *config.HarnessConfig) harness.Options {
	return harness.Options{
		QueueSize:       cfg.Harness.QueueSize,
		HistoryLimit:    cfg.Harness.HistoryLimit,
		DwellTicks:      cfg.Controller.DwellTicks,
		Margin:          cfg.Controller.Margin,
		SettleTicks:     cfg.Controller.SettleTicks,
		ReprobeTicks:    cfg.Controller.ReprobeTicks,
		BackoffCooldown: cfg.Controller.BackoffCooldown,
	}
}

func publisherOptions(cfg *config.HarnessConfig) telemetry.PublisherOptions {
	return telemetry.PublisherOptions{
		Buffer:        cfg.Telemetry.Buffer,
		Every:         cfg.Telemetry.SampleEvery,
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
	}
}

func adminOptions(cfg *config.HarnessConfig, m *metrics.Collector) admin.Options {
	return admin.Options{
		CommandRate:    cfg.Admin.CommandRate,
		CommandBurst:   cfg.Admin.CommandBurst,
		StreamInterval: cfg.Admin.StreamInterval,
		Metrics:        m.Handler(),
	}
}

func newWorld(cfg *config.HarnessConfig) *host.World {
	var opts []host.WorldOption
	if cfg.Host.BusyWait {
		opts = append(opts, host.WithBusyWait())
	}
	if cfg.Host.Jitter > 0 {
		opts = append(opts, host.WithJitter(cfg.Host.Jitter))
	}
	return host.NewWorld(cfg.Host.MaxUnits, cfg.Host.UnitWork, opts...)
}

// build wires host, harness, telemetry, metrics and admin from cfg. The
// harness is registered as the host's tick callback.
func build(cfg *config.HarnessConfig, logger *zap.Logger) (*stack, error) {
	sm, err := sampler.New(samplerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	world := newWorld(cfg)
	p, err := pool.New(world, cfg.Pool.MaxBatch, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	cat, err := scenario.NewCatalog(cfg.NominalTPS(), cfg.Scenarios...)
	if err != nil {
		return nil, err
	}

	writer, cleanup, err := newWriter(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	pub := telemetry.NewPublisher(writer, publisherOptions(cfg), logger)
	collector := metrics.NewCollector()

	h := harness.New(sm, p, cat, harnessOptions(cfg), logger.Named("harness"), pub, collector)
	srv := host.NewServer(cfg.Host.TickInterval, world)
	srv.OnTick(h.OnTick)

	s := &stack{
		host:      srv,
		harness:   h,
		publisher: pub,
		metrics:   collector,
		cleanup:   cleanup,
	}
	if cfg.Admin.Enabled {
		s.admin = admin.NewServer(h, adminOptions(cfg, collector), logger)
	}
	return s, nil
}
