// Package warmer preloads the cache at startup and on a cron schedule.
//
// Tasks come from a TaskSource, so the warmer knows nothing about what it warms. A batch
// runs with bounded concurrency and optional pacing; a failed task is logged and counted
// and never stops the others.
//
//	w := warmer.New(cfg.Warmup, drugService, warmer.WithCache(orchestrator), warmer.WithLogger(logger))
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
package warmer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/health"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/metrics"
)

const (
	// DefaultSchedule runs the warmup daily at 03:00 UTC.
	DefaultSchedule    = "0 3 * * *"
	defaultConcurrency = 4
	defaultTimeout     = 5 * time.Minute
)

// Task is one unit of warmup work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskSource lists the tasks of a warmup run.
type TaskSource interface {
	WarmupTasks(ctx context.Context) ([]Task, error)
}

// Report summarizes a warmup run.
type Report struct {
	StartedAt time.Time         `json:"startedAt"`
	Duration  time.Duration     `json:"duration"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   bool              `json:"skipped,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Option configures a Warmer.
type Option func(*Warmer)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(w *Warmer) { w.logger = l }
}

// WithMetrics records task outcomes.
func WithMetrics(m *metrics.CacheMetrics) Option {
	return func(w *Warmer) { w.metrics = m }
}

// WithCache supplies the cache health check used by Health.
func WithCache(c health.Checker) Option {
	return func(w *Warmer) { w.cache = c }
}

// WithBreakers lets Health report breakers that are not closed.
func WithBreakers(m *breaker.Manager) Option {
	return func(w *Warmer) { w.breakers = m }
}

// Warmer runs warmup batches. Runs never overlap: a run requested while another is in
// progress is skipped.
type Warmer struct {
	cfg      config.WarmupConfig
	source   TaskSource
	logger   *logging.Logger
	metrics  *metrics.CacheMetrics
	cache    health.Checker
	breakers *breaker.Manager

	running atomic.Bool
	last    atomic.Pointer[Report]

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a Warmer. Zero concurrency and timeout select the defaults.
func New(cfg config.WarmupConfig, source TaskSource, opts ...Option) *Warmer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}

	w := &Warmer{cfg: cfg, source: source}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	w.logger = w.logger.WithComponent("warmer")
	return w
}

// Start runs a warmup when on_start is set and registers the cron job when scheduled
// is set. The startup run completes before Start returns.
func (w *Warmer) Start(ctx context.Context) error {
	if w.cfg.Scheduled {
		if err := w.schedule(); err != nil {
			return err
		}
	}
	if w.cfg.OnStart {
		w.logger.Info().Msg("starting cache warmup on startup")
		w.Warmup(ctx)
	}
	return nil
}

func (w *Warmer) schedule() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		w.logger.Info().Msg("starting scheduled cache warmup")
		w.Warmup(ctx)
	}); err != nil {
		cancel()
		return errors.NewInvalidInputWithCause("warmup.schedule", "invalid cron expression", err)
	}
	c.Start()
	w.cron = c
	w.cancel = cancel
	return nil
}

// Stop removes the schedule, cancels a scheduled run in progress and waits for it
// to return.
func (w *Warmer) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// Warmup runs one batch and returns its report.
func (w *Warmer) Warmup(ctx context.Context) Report {
	start := time.Now()
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Info().Msg("cache warmup already running, skipped")
		return Report{StartedAt: start, Skipped: true}
	}
	defer w.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	report := Report{StartedAt: start}
	tasks, err := w.source.WarmupTasks(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("collecting warmup tasks failed")
		report.Failed = 1
		report.Errors = map[string]string{"collect": err.Error()}
		return w.finish(report, start)
	}
	report.Total = len(tasks)

	var limiter *rate.Limiter
	if w.cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.cfg.RatePerSec), 1)
	}

	var (
		mu        sync.Mutex
		succeeded int
		failures  = map[string]string{}
	)
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			err := w.run(ctx, limiter, task)
			w.metrics.WarmupTask(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[task.Name] = err.Error()
				w.logger.Warn().Str(logging.Task, task.Name).Err(err).Msg("warmup task failed")
				return nil
			}
			succeeded++
			return nil
		})
	}
	_ = g.Wait()

	report.Succeeded = succeeded
	report.Failed = len(failures)
	if len(failures) > 0 {
		report.Errors = failures
	}
	return w.finish(report, start)
}

func (w *Warmer) run(ctx context.Context, limiter *rate.Limiter, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewPermanent(fmt.Sprintf("warmup task panicked: %v", r), nil)
		}
	}()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return task.Run(ctx)
}

func (w *Warmer) finish(report Report, start time.Time) Report {
	report.Duration = time.Since(start)
	w.last.Store(&report)

	w.logger.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int64(logging.Duration, report.Duration.Milliseconds()).
		Msg("cache warmup completed")
	return report
}

// LastReport returns the report of the most recent run that was not skipped.
func (w *Warmer) LastReport() (Report, bool) {
	r := w.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}
