package billing

import "time"

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceExpired   InvoiceStatus = "EXPIRED"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Closed reports whether the invoice became immutable.
func (s InvoiceStatus) Closed() bool {
	return s == InvoicePaid || s == InvoiceExpired || s == InvoiceCancelled
}

// Invoice is the billing-side record of the amount owed for an order.
// One invoice per order. GatewayReference is assigned by the payment gateway
// once a payment is initiated and is the correlation key for callbacks.
type Invoice struct {
	ID               int64
	Number           string
	OrderID          string
	UserID           int64
	Amount           float64
	FeeAmount        float64
	Status           InvoiceStatus
	Channel          *string
	GatewayReference *string
	PayCode          *string
	CheckoutURL      *string
	PaidAt           *time.Time
	DueAt            time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type GetCriteria struct {
	ID               *int64
	Number           *string
	OrderID          *string
	GatewayReference *string
}

type UpdateParams struct {
	// ExpectedStatus guards the update: the row is only written while its
	// status still matches, and a lost race surfaces as ErrInvoiceClosed.
	ExpectedStatus   *InvoiceStatus
	Status           *InvoiceStatus
	Channel          *string
	GatewayReference *string
	PayCode          *string
	CheckoutURL      *string
	FeeAmount        *float64
	PaidAt           *time.Time
}

// CreateTransactionParams is what the gateway needs to open a transaction.
type CreateTransactionParams struct {
	MerchantRef  string
	Amount       float64
	Method       string
	CustomerName string
	ExpiredAt    time.Time
}

// GatewayTransaction is the gateway's answer to a created transaction.
type GatewayTransaction struct {
	Reference   string
	PayCode     string
	CheckoutURL string
	Status      string
}
