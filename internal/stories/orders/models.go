package orders

import "time"

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusProvisioning   Status = "PROVISIONING"
	StatusActive         Status = "ACTIVE"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

type Event string

const (
	EventPaymentConfirmed      Event = "PAYMENT_CONFIRMED"
	EventPaymentFailed         Event = "PAYMENT_FAILED"
	EventPaymentExpired        Event = "PAYMENT_EXPIRED"
	EventCancelRequested       Event = "CANCEL_REQUESTED"
	EventProvisioningStarted   Event = "PROVISIONING_STARTED"
	EventProvisioningCompleted Event = "PROVISIONING_COMPLETED"
	EventProvisioningFailed    Event = "PROVISIONING_FAILED"
)

type Order struct {
	ID             string
	UserID         int64
	PlanID         string
	ImageID        string
	DurationMonths int
	Hostname       string
	CouponCode     *string
	TotalAmount    float64
	Status         Status
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusHistoryEntry is an append-only audit record. PreviousStatus equals
// NewStatus for recorded events that did not move the order (payment failures).
type StatusHistoryEntry struct {
	ID             int64
	OrderID        string
	PreviousStatus Status
	NewStatus      Status
	Actor          string
	Reason         string
	CreatedAt      time.Time
}

// LifecycleEvent is published to the notification dispatcher after every
// accepted transition.
type LifecycleEvent struct {
	OrderID  string
	UserID   int64
	Event    Event
	Previous Status
	Current  Status
	Actor    string
	Reason   string
	At       time.Time
}

type CreateOrderParams struct {
	UserID         int64
	PlanID         string
	ImageID        string
	DurationMonths int
	Hostname       string
	CouponCode     *string
}

type ListCriteria struct {
	UserID *int64
	Status *Status
	Limit  int
	Offset int
}
