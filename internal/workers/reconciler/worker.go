package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Recoverer re-drives provisioning tasks that stopped making progress.
type Recoverer interface {
	Recover(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Worker periodically sweeps stale provisioning tasks, picking up work lost
// to a crash or restart.
type Worker struct {
	recoverer  Recoverer
	schedule   string
	staleAfter time.Duration
	logger     *slog.Logger
	cron       *cron.Cron
}

func NewWorker(recoverer Recoverer, schedule string, staleAfter time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		recoverer:  recoverer,
		schedule:   schedule,
		staleAfter: staleAfter,
		logger:     logger,
		cron:       cron.New(),
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "reconciler"
}

// Start starts the reconciler worker
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in reconciler worker", "panic", r)
			}
		}()
		ctx := context.Background()
		recovered, err := w.recoverer.Recover(ctx, w.staleAfter)
		if err != nil {
			w.logger.Error("Reconciler worker failed", "error", err)
			return
		}
		if recovered > 0 {
			w.logger.Info("Recovered stale provisioning tasks", "count", recovered)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciler worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Reconciler worker started", "schedule", w.schedule, "stale_after", w.staleAfter)
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping reconciler worker")
	w.cron.Stop()
}
