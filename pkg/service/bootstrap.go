package service

import (
	"context"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/metrics"
	"github.com/Combine-Capital/drugfacts/pkg/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Bootstrap holds the process-wide observability components and the cleanup stack
// every later resource registers with.
type Bootstrap struct {
	Config         *config.Config
	Logger         *logging.Logger
	Metrics        *metrics.CacheMetrics
	TracerProvider *sdktrace.TracerProvider

	cleanup *CleanupHandler
}

// BootstrapOption turns off one of the observability components.
type BootstrapOption func(*bootstrapSkips)

type bootstrapSkips struct {
	metrics bool
	tracing bool
	logger  bool
}

func WithoutMetrics() BootstrapOption {
	return func(s *bootstrapSkips) { s.metrics = true }
}

func WithoutTracing() BootstrapOption {
	return func(s *bootstrapSkips) { s.tracing = true }
}

// WithoutLogger leaves Logger as a no-op logger.
func WithoutLogger() BootstrapOption {
	return func(s *bootstrapSkips) { s.logger = true }
}

// NewBootstrap sets up logging, then metrics, then tracing. If a step fails, what
// the earlier steps registered is cleaned up before the error is returned.
//
//	b, err := service.NewBootstrap(ctx, config.MustLoad("config.yaml", "DRUGFACTS"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Cleanup(ctx)
func NewBootstrap(ctx context.Context, cfg *config.Config, opts ...BootstrapOption) (*Bootstrap, error) {
	var skip bootstrapSkips
	for _, opt := range opts {
		opt(&skip)
	}

	logger := logging.NewNop()
	if !skip.logger {
		logger = logging.New(cfg.Log)
	}
	b := &Bootstrap{Config: cfg, Logger: logger, cleanup: NewCleanupHandler(logger)}

	logger.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Msg("service starting")

	steps := []struct {
		name string
		on   bool
		run  func(context.Context) error
	}{
		{"metrics", cfg.Metrics.Enabled && !skip.metrics, b.initMetrics},
		{"tracing", cfg.Tracing.Enabled && !skip.tracing, b.initTracing},
	}
	for _, step := range steps {
		if !step.on {
			continue
		}
		if err := step.run(ctx); err != nil {
			_ = b.Cleanup(ctx)
			return nil, errors.Wrap(err, "initializing "+step.name)
		}
	}
	return b, nil
}

func (b *Bootstrap) initMetrics(context.Context) error {
	cfg := b.Config.Metrics
	if err := metrics.Init(cfg); err != nil {
		return err
	}
	b.AddCleanup(metrics.Shutdown)

	m, err := metrics.NewCacheMetrics(cfg.Namespace)
	if err != nil {
		return err
	}
	b.Metrics = m
	b.Logger.Info().Int("port", cfg.Port).Str("path", cfg.Path).Msg("metrics initialized")
	return nil
}

func (b *Bootstrap) initTracing(ctx context.Context) error {
	cfg := b.Config.Tracing
	tp, shutdown, err := tracing.NewTracerProvider(ctx, cfg, b.Config.Service.Name, b.Config.Service.Version)
	if err != nil {
		return err
	}
	b.TracerProvider = tp
	b.AddCleanup(shutdown)
	b.Logger.Info().Str("endpoint", cfg.Endpoint).Float64("sample_rate", cfg.SampleRate).Msg("tracing initialized")
	return nil
}

// AddCleanup registers fn to run during Cleanup. The last registered runs first.
func (b *Bootstrap) AddCleanup(fn func(context.Context) error) {
	b.cleanup.Register(fn)
}

// Cleanup releases everything registered with AddCleanup. Failures are logged and
// the first one is returned.
func (b *Bootstrap) Cleanup(ctx context.Context) error {
	err := b.cleanup.Execute(ctx)
	b.Logger.Info().Msg("cleanup completed")
	return err
}
