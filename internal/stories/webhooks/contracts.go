package webhooks

import (
	"context"
	"errors"
	"time"

	"rackforge/internal/stories/billing"
	"rackforge/internal/stories/orders"
)

var (
	ErrInvalidSignature = errors.New("callback signature mismatch")
	ErrMalformedPayload = errors.New("malformed callback payload")
	ErrUnknownReference = errors.New("callback reference matches no invoice")
)

type (
	Storage interface {
		// RecordEvent inserts the dedup record if it does not exist yet and
		// returns the stored row either way.
		RecordEvent(ctx context.Context, reference, status string) (*EventRecord, error)
		MarkEventProcessed(ctx context.Context, id int64) error
	}

	Invoices interface {
		GetInvoice(ctx context.Context, criteria billing.GetCriteria) (*billing.Invoice, error)
		MarkPaid(ctx context.Context, invoice *billing.Invoice, paidAt time.Time) (*billing.Invoice, error)
		MarkExpired(ctx context.Context, invoice *billing.Invoice) (*billing.Invoice, error)
	}

	Lifecycle interface {
		Apply(ctx context.Context, params orders.ApplyParams) (*orders.ApplyResult, error)
	}
)
