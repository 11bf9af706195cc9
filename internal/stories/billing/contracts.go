package billing

import (
	"context"
	"errors"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvoiceClosed   = errors.New("invoice is closed")
	ErrUnknownChannel  = errors.New("unknown payment channel")
)

type (
	Storage interface {
		CreateInvoice(ctx context.Context, invoice Invoice) (*Invoice, error)
		GetInvoice(ctx context.Context, criteria GetCriteria) (*Invoice, error)
		UpdateInvoice(ctx context.Context, criteria GetCriteria, params UpdateParams) (*Invoice, error)
		ListOverduePendingInvoices(ctx context.Context) ([]*Invoice, error)
	}

	// Gateway creates payment transactions on the external payment provider.
	Gateway interface {
		CreateTransaction(ctx context.Context, params CreateTransactionParams) (*GatewayTransaction, error)
	}
)
