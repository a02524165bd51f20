package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

// ShutdownConfig configures WaitForShutdown.
type ShutdownConfig struct {
	// Timeout bounds the whole shutdown.
	Timeout time.Duration

	// Signals trigger shutdown. Empty means SIGINT and SIGTERM.
	Signals []os.Signal
}

func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation, then stops services
// in order. A service that fails to stop is logged and the rest are still stopped.
func WaitForShutdown(ctx context.Context, logger *logging.Logger, services ...Service) {
	WaitForShutdownWithConfig(ctx, DefaultShutdownConfig(), logger, services...)
}

// WaitForShutdownWithConfig is WaitForShutdown with explicit signals and timeout.
func WaitForShutdownWithConfig(ctx context.Context, cfg ShutdownConfig, logger *logging.Logger, services ...Service) {
	if logger == nil {
		logger = logging.NewNop()
	}
	defaults := DefaultShutdownConfig()
	if len(cfg.Signals) == 0 {
		cfg.Signals = defaults.Signals
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	sigCtx, stop := signal.NotifyContext(ctx, cfg.Signals...)
	<-sigCtx.Done()
	stop()
	if ctx.Err() != nil {
		logger.Info().Msg("context cancelled, shutting down")
	} else {
		logger.Info().Msg("shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
	defer cancel()

	for _, svc := range services {
		log := logger.WithComponent(svc.Name())
		if err := svc.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("service did not stop cleanly")
			continue
		}
		log.Info().Msg("service stopped")
	}
}

// CleanupFunc releases one resource during shutdown.
type CleanupFunc func(context.Context) error

// CleanupHandler runs cleanup functions in LIFO order.
type CleanupHandler struct {
	logger   *logging.Logger
	cleanups []CleanupFunc
}

func NewCleanupHandler(logger *logging.Logger) *CleanupHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CleanupHandler{logger: logger}
}

// Register adds fn. The last registered function runs first.
func (h *CleanupHandler) Register(fn CleanupFunc) {
	h.cleanups = append(h.cleanups, fn)
}

// Execute runs every cleanup even when some fail, logs each failure and returns the
// first one.
func (h *CleanupHandler) Execute(ctx context.Context) error {
	var firstErr error
	for i := len(h.cleanups) - 1; i >= 0; i-- {
		if err := h.cleanups[i](ctx); err != nil {
			h.logger.Error().Err(err).Msg("cleanup failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
