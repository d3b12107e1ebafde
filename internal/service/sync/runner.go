package sync

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
)

// Runner triggers reconciliation on a fixed interval. The first run is
// delayed briefly so dependencies finish starting up.
type Runner struct {
	reconciler *Reconciler
	logger     *zap.Logger
	interval   time.Duration
	delay      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wires a new Runner instance.
func NewRunner(reconciler *Reconciler, cfg config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		reconciler: reconciler,
		logger:     logger,
		interval:   cfg.Sync.Interval,
		delay:      cfg.Sync.InitialDelay,
	}
}

// Start launches the periodic loop in the background.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)
}

// Stop cancels the loop and waits for it to drain.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.reconciler.Run(ctx); err != nil {
		r.logger.Error("scheduled sync failed", zap.Error(err))
	}
}

func registerRunner(lc fx.Lifecycle, runner *Runner, cfg config.Config, logger *zap.Logger) {
	if !cfg.Sync.Enabled {
		logger.Info("periodic sync disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			logger.Info("periodic sync started",
				zap.Duration("interval", cfg.Sync.Interval),
				zap.Duration("initial_delay", cfg.Sync.InitialDelay),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			runner.Stop()
			return nil
		},
	})
}
