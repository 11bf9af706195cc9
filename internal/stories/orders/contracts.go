package orders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrConflict  = errors.New("transition not allowed from current status")
	ErrForbidden = errors.New("order belongs to another user")
)

// TransitionParams describes an atomic status change. The storage must apply
// the update only while the order is still in From and write the history entry
// in the same transaction; a lost race returns ErrConflict.
type TransitionParams struct {
	OrderID   string
	From      Status
	To        Status
	Actor     string
	Reason    string
	PaidAt    *time.Time
	UpdatedAt time.Time
}

// RecordEventParams writes a history-only audit entry without touching the
// order row. Used for payment failures that keep the order payable.
type RecordEventParams struct {
	OrderID string
	Status  Status
	Actor   string
	Reason  string
}

type (
	Storage interface {
		CreateOrder(ctx context.Context, order Order) (*Order, error)
		GetOrder(ctx context.Context, id string) (*Order, error)
		ListOrders(ctx context.Context, criteria ListCriteria) ([]*Order, error)
		ApplyTransition(ctx context.Context, params TransitionParams) error
		RecordStatusEvent(ctx context.Context, params RecordEventParams) error
		ListStatusHistory(ctx context.Context, orderID string) ([]*StatusHistoryEntry, error)
	}

	// ProvisionEnqueuer creates the provisioning task when an order becomes
	// paid. Must be idempotent per order.
	ProvisionEnqueuer interface {
		Enqueue(ctx context.Context, orderID string) error
	}

	// Publisher receives lifecycle events after the transaction commits.
	Publisher interface {
		Publish(ctx context.Context, event LifecycleEvent)
	}

	// InvoiceCreator opens the billing-side ledger entry for a new order.
	InvoiceCreator interface {
		CreateForOrder(ctx context.Context, orderID string, userID int64, amount float64) error
	}
)
