package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rackforge/internal/metrics"
)

// transitions maps an event to the states it may fire from and the state it
// produces. PAYMENT_FAILED is deliberately absent: a failed payment attempt is
// recorded in the history but leaves the order payable, so the customer can
// retry on another channel.
var transitions = map[Event]map[Status]Status{
	EventPaymentConfirmed:      {StatusPendingPayment: StatusPaid},
	EventPaymentExpired:        {StatusPendingPayment: StatusExpired},
	EventCancelRequested:       {StatusPendingPayment: StatusCancelled},
	EventProvisioningStarted:   {StatusPaid: StatusProvisioning},
	EventProvisioningCompleted: {StatusProvisioning: StatusActive},
	EventProvisioningFailed:    {StatusProvisioning: StatusFailed},
}

// duplicateTargets lets a rejected event be told apart from a replay of a fact
// that was already applied, so callers can log it as benign.
var duplicateTargets = map[Event][]Status{
	EventPaymentConfirmed:      {StatusPaid, StatusProvisioning, StatusActive},
	EventPaymentExpired:        {StatusExpired},
	EventCancelRequested:       {StatusCancelled},
	EventProvisioningStarted:   {StatusProvisioning},
	EventProvisioningCompleted: {StatusActive},
	EventProvisioningFailed:    {StatusFailed},
}

type ApplyParams struct {
	OrderID string
	Event   Event
	Actor   string
	Reason  string
}

type ApplyResult struct {
	Previous Status
	Current  Status
	// Changed is false for recorded-only events (payment failures).
	Changed bool
	// Duplicate marks a conflict caused by a replay of an already-applied fact.
	Duplicate bool
}

// Lifecycle is the single authority over order status. Every mutation goes
// through Apply, whether it comes from a webhook, an admin override, or the
// provisioning saga.
type Lifecycle struct {
	storage   Storage
	enqueuer  ProvisionEnqueuer
	publisher Publisher
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time
}

func NewLifecycle(storage Storage, enqueuer ProvisionEnqueuer, publisher Publisher, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		storage:   storage,
		enqueuer:  enqueuer,
		publisher: publisher,
		locks:     newKeyedMutex(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply validates the event against the transition table and executes it
// atomically with its history entry. Transitions for a single order are
// serialized: a concurrent webhook and admin override cannot both win. The
// loser gets ErrConflict, with Duplicate set when the same fact already landed.
func (l *Lifecycle) Apply(ctx context.Context, params ApplyParams) (*ApplyResult, error) {
	unlock := l.locks.Lock(params.OrderID)
	defer unlock()

	order, err := l.storage.GetOrder(ctx, params.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}

	if params.Event == EventPaymentFailed {
		return l.recordPaymentFailure(ctx, order, params)
	}

	to, ok := transitions[params.Event][order.Status]
	if !ok {
		result := &ApplyResult{
			Previous:  order.Status,
			Current:   order.Status,
			Duplicate: isDuplicate(params.Event, order.Status),
		}
		l.logger.Warn("Rejected order transition",
			"order_id", order.ID,
			"event", string(params.Event),
			"status", string(order.Status),
			"actor", params.Actor,
			"duplicate", result.Duplicate)
		metrics.OrderTransitions.WithLabelValues(string(params.Event), "conflict").Inc()
		return result, ErrConflict
	}

	if params.Event == EventProvisioningCompleted && order.PaidAt == nil {
		// Should be unreachable: PROVISIONING implies an accepted payment.
		l.logger.Warn("Activating order without recorded paidAt", "order_id", order.ID)
	}

	transition := TransitionParams{
		OrderID:   order.ID,
		From:      order.Status,
		To:        to,
		Actor:     params.Actor,
		Reason:    params.Reason,
		UpdatedAt: l.now(),
	}
	if to == StatusPaid {
		paidAt := l.now()
		transition.PaidAt = &paidAt
	}

	if err := l.storage.ApplyTransition(ctx, transition); err != nil {
		return nil, err
	}

	l.logger.Info("Order transitioned",
		"order_id", order.ID,
		"event", string(params.Event),
		"from", string(order.Status),
		"to", string(to),
		"actor", params.Actor)
	metrics.OrderTransitions.WithLabelValues(string(params.Event), "applied").Inc()

	if to == StatusPaid && l.enqueuer != nil {
		if err := l.enqueuer.Enqueue(ctx, order.ID); err != nil {
			// The reconciliation sweep re-enqueues paid orders without a
			// task, so a failure here is recoverable.
			l.logger.Error("Failed to enqueue provisioning", "order_id", order.ID, "error", err)
		}
	}

	if l.publisher != nil {
		l.publisher.Publish(ctx, LifecycleEvent{
			OrderID:  order.ID,
			UserID:   order.UserID,
			Event:    params.Event,
			Previous: order.Status,
			Current:  to,
			Actor:    params.Actor,
			Reason:   params.Reason,
			At:       l.now(),
		})
	}

	return &ApplyResult{Previous: order.Status, Current: to, Changed: true}, nil
}

// recordPaymentFailure keeps the order in PENDING_PAYMENT and appends an audit
// entry so the failed attempt stays visible to operators. Outside of
// PENDING_PAYMENT a payment failure is meaningless and rejected.
func (l *Lifecycle) recordPaymentFailure(ctx context.Context, order *Order, params ApplyParams) (*ApplyResult, error) {
	if order.Status != StatusPendingPayment {
		l.logger.Warn("Payment failure for non-payable order",
			"order_id", order.ID,
			"status", string(order.Status),
			"actor", params.Actor)
		metrics.OrderTransitions.WithLabelValues(string(EventPaymentFailed), "conflict").Inc()
		return &ApplyResult{Previous: order.Status, Current: order.Status}, ErrConflict
	}

	err := l.storage.RecordStatusEvent(ctx, RecordEventParams{
		OrderID: order.ID,
		Status:  StatusPendingPayment,
		Actor:   params.Actor,
		Reason:  params.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("record payment failure: %w", err)
	}

	l.logger.Info("Payment failure recorded, order stays payable",
		"order_id", order.ID,
		"actor", params.Actor,
		"reason", params.Reason)
	metrics.OrderTransitions.WithLabelValues(string(EventPaymentFailed), "recorded").Inc()

	return &ApplyResult{Previous: StatusPendingPayment, Current: StatusPendingPayment}, nil
}

func isDuplicate(event Event, current Status) bool {
	for _, s := range duplicateTargets[event] {
		if s == current {
			return true
		}
	}
	return false
}
