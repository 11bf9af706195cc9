package webhooks

import "time"

// Callback is the payload the payment gateway posts to the callback endpoint.
// Reference is gateway-assigned, MerchantRef is the invoice number we passed
// when the transaction was created.
type Callback struct {
	Reference   string  `json:"reference"`
	MerchantRef string  `json:"merchant_ref"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"total_amount"`
	PaidAt      int64   `json:"paid_at"`
}

// Gateway payment statuses carried in callbacks.
const (
	CallbackStatusPaid    = "PAID"
	CallbackStatusExpired = "EXPIRED"
	CallbackStatusFailed  = "FAILED"
)

// EventRecord is the dedup entry for one (reference, status) delivery.
// ProcessedAt is set only after the invoice and order were both updated, so a
// crash in between leaves the record re-drivable by the gateway's retry.
type EventRecord struct {
	ID          int64
	Reference   string
	Status      string
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Result describes what handling a callback did, for logging and the HTTP
// response. Duplicate and Ignored deliveries still answer 200 to stop the
// gateway from retrying.
type Result struct {
	Reference string
	OrderID   string
	Duplicate bool
	Ignored   bool
	Note      string
}
