package environment

import (
	"context"
	"log/slog"

	"rackforge/internal/catalog"
	"rackforge/internal/config"
	"rackforge/internal/storage"
	"rackforge/internal/stories/billing"
	"rackforge/internal/stories/notify"
	"rackforge/internal/stories/orders"
	"rackforge/internal/stories/provisioning"
	"rackforge/internal/stories/webhooks"
	"rackforge/internal/workers"
	"rackforge/internal/workers/invoiceexpiry"
	"rackforge/internal/workers/provisioner"
	"rackforge/internal/workers/reconciler"

	"github.com/pkg/errors"
)

type Services struct {
	Lifecycle     *orders.Lifecycle
	Orders        *orders.Service
	Billing       *billing.Service
	Webhooks      *webhooks.Service
	Provisioning  *provisioning.Service
	Catalog       *catalog.Catalog
	WorkerManager *workers.Manager
}

// lateEnqueuer breaks the construction cycle between the lifecycle, which
// enqueues provisioning on PAID, and the provisioning service, which applies
// lifecycle events. The target is set once wiring completes.
type lateEnqueuer struct {
	svc *provisioning.Service
}

func (l *lateEnqueuer) Enqueue(ctx context.Context, orderID string) error {
	if l.svc == nil {
		return errors.New("provisioning service is not wired")
	}
	return l.svc.Enqueue(ctx, orderID)
}

func newServices(ctx context.Context, clients *Clients, cfg *config.Config, cat *catalog.Catalog, logger *slog.Logger) (*Services, error) {
	var s Services
	s.Catalog = cat

	storageImpl := storage.New(clients.SQLiteDB.DB)
	if err := storageImpl.Bootstrap(ctx); err != nil {
		return nil, errors.Wrap(err, "bootstrap storage schema")
	}

	var bot notify.BotAPI
	if clients.TelegramBot != nil {
		bot = clients.TelegramBot
	}
	dispatcher := notify.NewDispatcher(bot, cfg.Telegram.AdminChatIDs, logger)

	enqueuer := &lateEnqueuer{}
	s.Lifecycle = orders.NewLifecycle(storageImpl, enqueuer, dispatcher, logger)

	s.Provisioning = provisioning.NewService(
		storageImpl,
		storageImpl,
		clients.Compute,
		s.Lifecycle,
		cat,
		cfg.Provisioning.AttemptTimeout,
		cfg.Provisioning.MaxDuration,
		logger,
	)
	enqueuer.svc = s.Provisioning

	s.Billing = billing.NewService(storageImpl, cat, clients.Tripay, s.Lifecycle, cfg.Billing.InvoiceTTL, logger)
	s.Orders = orders.NewService(storageImpl, cat, s.Lifecycle, s.Billing, logger)
	s.Webhooks = webhooks.NewService(storageImpl, s.Billing, s.Lifecycle, cfg.Tripay.PrivateKey, logger)

	s.WorkerManager = workers.NewManager(logger.WithGroup("workers"),
		provisioner.NewWorker(s.Provisioning, cfg.Provisioning.Schedule, cfg.Provisioning.BatchSize, logger),
		reconciler.NewWorker(s.Provisioning, cfg.Provisioning.ReconcileSchedule, cfg.Provisioning.StaleAfter, logger),
		invoiceexpiry.NewWorker(s.Billing, cfg.Billing.ExpirySchedule, logger),
	)

	return &s, nil
}
