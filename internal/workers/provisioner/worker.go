package provisioner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Provisioner drives the provisioning saga forward.
type Provisioner interface {
	ProcessPending(ctx context.Context, limit int) error
	ProcessRunning(ctx context.Context, limit int) error
}

// Worker ticks the provisioning saga: starts queued tasks and polls running
// ones.
type Worker struct {
	provisioner Provisioner
	schedule    string
	batchSize   int
	logger      *slog.Logger
	cron        *cron.Cron

	// Guards against overlapping runs when a tick outlives the schedule.
	running atomic.Bool
}

func NewWorker(provisioner Provisioner, schedule string, batchSize int, logger *slog.Logger) *Worker {
	return &Worker{
		provisioner: provisioner,
		schedule:    schedule,
		batchSize:   batchSize,
		logger:      logger,
		cron:        cron.New(),
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "provisioner"
}

// Start starts the provisioner worker
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in provisioner worker", "panic", r)
			}
		}()
		ctx := context.Background()
		if err := w.run(ctx); err != nil {
			w.logger.Error("Provisioner worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule provisioner worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Provisioner worker started", "schedule", w.schedule)
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping provisioner worker")
	w.cron.Stop()
}

func (w *Worker) run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return nil
	}
	defer w.running.Store(false)

	if err := w.provisioner.ProcessPending(ctx, w.batchSize); err != nil {
		w.logger.Error("Failed to process pending tasks", "error", err)
	}
	if err := w.provisioner.ProcessRunning(ctx, w.batchSize); err != nil {
		w.logger.Error("Failed to process running tasks", "error", err)
	}
	return nil
}
