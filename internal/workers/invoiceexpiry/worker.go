package invoiceexpiry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Expirer closes invoices that were never paid before their deadline.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Worker expires overdue invoices, covering the case where the gateway never
// delivers an EXPIRED callback.
type Worker struct {
	expirer  Expirer
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewWorker(expirer Expirer, schedule string, logger *slog.Logger) *Worker {
	return &Worker{
		expirer:  expirer,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "invoice-expiry"
}

// Start starts the invoice expiry worker
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in invoice expiry worker", "panic", r)
			}
		}()
		ctx := context.Background()
		expired, err := w.expirer.ExpireOverdue(ctx)
		if err != nil {
			w.logger.Error("Invoice expiry worker failed", "error", err)
			return
		}
		if expired > 0 {
			w.logger.Info("Expired overdue invoices", "count", expired)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule invoice expiry worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Invoice expiry worker started", "schedule", w.schedule)
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping invoice expiry worker")
	w.cron.Stop()
}
