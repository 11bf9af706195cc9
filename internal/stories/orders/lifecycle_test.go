package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type mockStorage struct {
	orders      map[string]*Order
	history     []RecordEventParams
	transitions []TransitionParams
}

func newMockStorage(existing ...*Order) *mockStorage {
	m := &mockStorage{orders: make(map[string]*Order)}
	for _, o := range existing {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockStorage) CreateOrder(_ context.Context, order Order) (*Order, error) {
	m.orders[order.ID] = &order
	return &order, nil
}

func (m *mockStorage) GetOrder(_ context.Context, id string) (*Order, error) {
	return m.orders[id], nil
}

func (m *mockStorage) ListOrders(_ context.Context, _ ListCriteria) ([]*Order, error) {
	return nil, nil
}

func (m *mockStorage) ApplyTransition(_ context.Context, params TransitionParams) error {
	order, ok := m.orders[params.OrderID]
	if !ok || order.Status != params.From {
		return ErrConflict
	}
	order.Status = params.To
	if params.PaidAt != nil {
		order.PaidAt = params.PaidAt
	}
	m.transitions = append(m.transitions, params)
	return nil
}

func (m *mockStorage) RecordStatusEvent(_ context.Context, params RecordEventParams) error {
	m.history = append(m.history, params)
	return nil
}

func (m *mockStorage) ListStatusHistory(_ context.Context, _ string) ([]*StatusHistoryEntry, error) {
	return nil, nil
}

type mockEnqueuer struct {
	enqueued []string
	err      error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, orderID string) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, orderID)
	return nil
}

type mockPublisher struct {
	events []LifecycleEvent
}

func (m *mockPublisher) Publish(_ context.Context, event LifecycleEvent) {
	m.events = append(m.events, event)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name          string
		from          Status
		event         Event
		want          Status
		wantConflict  bool
		wantDuplicate bool
	}{
		{
			name:  "payment confirmed moves pending to paid",
			from:  StatusPendingPayment,
			event: EventPaymentConfirmed,
			want:  StatusPaid,
		},
		{
			name:  "payment expired moves pending to expired",
			from:  StatusPendingPayment,
			event: EventPaymentExpired,
			want:  StatusExpired,
		},
		{
			name:  "cancel moves pending to cancelled",
			from:  StatusPendingPayment,
			event: EventCancelRequested,
			want:  StatusCancelled,
		},
		{
			name:  "provisioning started moves paid to provisioning",
			from:  StatusPaid,
			event: EventProvisioningStarted,
			want:  StatusProvisioning,
		},
		{
			name:  "provisioning completed moves provisioning to active",
			from:  StatusProvisioning,
			event: EventProvisioningCompleted,
			want:  StatusActive,
		},
		{
			name:  "provisioning failed moves provisioning to failed",
			from:  StatusProvisioning,
			event: EventProvisioningFailed,
			want:  StatusFailed,
		},
		{
			name:          "payment confirmed on paid order is a duplicate",
			from:          StatusPaid,
			event:         EventPaymentConfirmed,
			want:          StatusPaid,
			wantConflict:  true,
			wantDuplicate: true,
		},
		{
			name:          "payment confirmed on active order is a duplicate",
			from:          StatusActive,
			event:         EventPaymentConfirmed,
			want:          StatusActive,
			wantConflict:  true,
			wantDuplicate: true,
		},
		{
			name:         "payment confirmed on expired order conflicts",
			from:         StatusExpired,
			event:        EventPaymentConfirmed,
			want:         StatusExpired,
			wantConflict: true,
		},
		{
			name:         "cancel on paid order conflicts",
			from:         StatusPaid,
			event:        EventCancelRequested,
			want:         StatusPaid,
			wantConflict: true,
		},
		{
			name:         "cancel on cancelled order is a duplicate",
			from:         StatusCancelled,
			event:        EventCancelRequested,
			want:         StatusCancelled,
			wantConflict: true, wantDuplicate: true,
		},
		{
			name:         "provisioning completed on pending conflicts",
			from:         StatusPendingPayment,
			event:        EventProvisioningCompleted,
			want:         StatusPendingPayment,
			wantConflict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := newMockStorage(&Order{ID: "ord-1", UserID: 7, Status: tt.from})
			lc := NewLifecycle(storage, nil, nil, testLogger())

			result, err := lc.Apply(context.Background(), ApplyParams{
				OrderID: "ord-1",
				Event:   tt.event,
				Actor:   "test",
			})

			if tt.wantConflict {
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("Apply() error = %v, want ErrConflict", err)
				}
				if result.Duplicate != tt.wantDuplicate {
					t.Errorf("Apply() duplicate = %v, want %v", result.Duplicate, tt.wantDuplicate)
				}
				if len(storage.transitions) != 0 || len(storage.history) != 0 {
					t.Errorf("rejected event must not write history, got %d transitions and %d records",
						len(storage.transitions), len(storage.history))
				}
			} else {
				if err != nil {
					t.Fatalf("Apply() unexpected error: %v", err)
				}
				if !result.Changed {
					t.Error("Apply() Changed = false, want true")
				}
			}

			if storage.orders["ord-1"].Status != tt.want {
				t.Errorf("order status = %s, want %s", storage.orders["ord-1"].Status, tt.want)
			}
		})
	}
}

func TestApplyPaymentFailureKeepsOrderPayable(t *testing.T) {
	storage := newMockStorage(&Order{ID: "ord-1", Status: StatusPendingPayment})
	lc := NewLifecycle(storage, nil, nil, testLogger())

	result, err := lc.Apply(context.Background(), ApplyParams{
		OrderID: "ord-1",
		Event:   EventPaymentFailed,
		Actor:   "webhook:T123",
		Reason:  "card declined",
	})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}

	if result.Changed {
		t.Error("payment failure must not change the order status")
	}
	if got := storage.orders["ord-1"].Status; got != StatusPendingPayment {
		t.Errorf("order status = %s, want PENDING_PAYMENT", got)
	}
	if len(storage.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(storage.history))
	}
	if storage.history[0].Reason != "card declined" {
		t.Errorf("history reason = %q, want %q", storage.history[0].Reason, "card declined")
	}
	if len(storage.transitions) != 0 {
		t.Errorf("payment failure must not run a transition, got %d", len(storage.transitions))
	}
}

func TestApplyPaymentFailureOutsidePendingRejected(t *testing.T) {
	for _, from := range []Status{StatusPaid, StatusActive, StatusExpired, StatusCancelled} {
		t.Run(string(from), func(t *testing.T) {
			storage := newMockStorage(&Order{ID: "ord-1", Status: from})
			lc := NewLifecycle(storage, nil, nil, testLogger())

			_, err := lc.Apply(context.Background(), ApplyParams{
				OrderID: "ord-1",
				Event:   EventPaymentFailed,
				Actor:   "webhook:T123",
			})
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("Apply() error = %v, want ErrConflict", err)
			}
			if len(storage.history) != 0 {
				t.Errorf("rejected payment failure must not write history, got %d records", len(storage.history))
			}
		})
	}
}

func TestApplyPaidSetsPaidAtAndEnqueues(t *testing.T) {
	storage := newMockStorage(&Order{ID: "ord-1", Status: StatusPendingPayment})
	enqueuer := &mockEnqueuer{}
	publisher := &mockPublisher{}
	lc := NewLifecycle(storage, enqueuer, publisher, testLogger())

	result, err := lc.Apply(context.Background(), ApplyParams{
		OrderID: "ord-1",
		Event:   EventPaymentConfirmed,
		Actor:   "webhook:T123",
	})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if result.Current != StatusPaid {
		t.Errorf("result.Current = %s, want PAID", result.Current)
	}
	if storage.orders["ord-1"].PaidAt == nil {
		t.Error("paidAt must be stamped on the PAID transition")
	}
	if len(enqueuer.enqueued) != 1 || enqueuer.enqueued[0] != "ord-1" {
		t.Errorf("expected provisioning enqueued for ord-1, got %v", enqueuer.enqueued)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.events))
	}
	if publisher.events[0].Current != StatusPaid {
		t.Errorf("published event current = %s, want PAID", publisher.events[0].Current)
	}
}

func TestApplyPaidSurvivesEnqueueFailure(t *testing.T) {
	storage := newMockStorage(&Order{ID: "ord-1", Status: StatusPendingPayment})
	enqueuer := &mockEnqueuer{err: errors.New("db locked")}
	lc := NewLifecycle(storage, enqueuer, nil, testLogger())

	result, err := lc.Apply(context.Background(), ApplyParams{
		OrderID: "ord-1",
		Event:   EventPaymentConfirmed,
		Actor:   "webhook:T123",
	})
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if result.Current != StatusPaid {
		t.Errorf("result.Current = %s, want PAID despite enqueue failure", result.Current)
	}
}

func TestApplyUnknownOrder(t *testing.T) {
	lc := NewLifecycle(newMockStorage(), nil, nil, testLogger())

	_, err := lc.Apply(context.Background(), ApplyParams{
		OrderID: "missing",
		Event:   EventPaymentConfirmed,
		Actor:   "test",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Apply() error = %v, want ErrNotFound", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusActive, StatusCancelled, StatusExpired, StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	open := []Status{StatusPendingPayment, StatusPaid, StatusProvisioning}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}
