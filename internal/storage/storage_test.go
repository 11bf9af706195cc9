package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"rackforge/internal/stories/billing"
	"rackforge/internal/stories/orders"
	"rackforge/internal/stories/provisioning"
)

func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A second connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	return s
}

func seedOrder(t *testing.T, s *storageImpl, id string, status orders.Status) *orders.Order {
	t.Helper()
	now := time.Now().UTC()
	created, err := s.CreateOrder(context.Background(), orders.Order{
		ID:             id,
		UserID:         7,
		PlanID:         "vps-small",
		ImageID:        "ubuntu-24-04",
		DurationMonths: 3,
		Hostname:       "web1",
		TotalAmount:    300,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return created
}

func TestApplyTransitionWritesHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedOrder(t, s, "ord-1", orders.StatusPendingPayment)

	paidAt := time.Now().UTC()
	err := s.ApplyTransition(ctx, orders.TransitionParams{
		OrderID:   "ord-1",
		From:      orders.StatusPendingPayment,
		To:        orders.StatusPaid,
		Actor:     "webhook:T123",
		Reason:    "payment confirmed",
		PaidAt:    &paidAt,
		UpdatedAt: paidAt,
	})
	if err != nil {
		t.Fatalf("ApplyTransition() unexpected error: %v", err)
	}

	order, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder(): %v", err)
	}
	if order.Status != orders.StatusPaid {
		t.Errorf("status = %s, want PAID", order.Status)
	}
	if order.PaidAt == nil {
		t.Error("paid_at must be persisted")
	}

	history, err := s.ListStatusHistory(ctx, "ord-1")
	if err != nil {
		t.Fatalf("ListStatusHistory(): %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	entry := history[0]
	if entry.PreviousStatus != orders.StatusPendingPayment || entry.NewStatus != orders.StatusPaid {
		t.Errorf("history %s -> %s, want PENDING_PAYMENT -> PAID", entry.PreviousStatus, entry.NewStatus)
	}
	if entry.Actor != "webhook:T123" {
		t.Errorf("actor = %q, want webhook:T123", entry.Actor)
	}
}

func TestApplyTransitionConflictWritesNothing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedOrder(t, s, "ord-1", orders.StatusPaid)

	err := s.ApplyTransition(ctx, orders.TransitionParams{
		OrderID:   "ord-1",
		From:      orders.StatusPendingPayment,
		To:        orders.StatusCancelled,
		Actor:     "customer:7",
		UpdatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("ApplyTransition() error = %v, want ErrConflict", err)
	}

	order, _ := s.GetOrder(ctx, "ord-1")
	if order.Status != orders.StatusPaid {
		t.Errorf("status = %s, want PAID untouched", order.Status)
	}
	history, _ := s.ListStatusHistory(ctx, "ord-1")
	if len(history) != 0 {
		t.Errorf("lost race must write no history, got %d entries", len(history))
	}
}

func TestRecordStatusEventLeavesOrderUntouched(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedOrder(t, s, "ord-1", orders.StatusPendingPayment)

	err := s.RecordStatusEvent(ctx, orders.RecordEventParams{
		OrderID: "ord-1",
		Status:  orders.StatusPendingPayment,
		Actor:   "webhook:T123",
		Reason:  "card declined",
	})
	if err != nil {
		t.Fatalf("RecordStatusEvent() unexpected error: %v", err)
	}

	order, _ := s.GetOrder(ctx, "ord-1")
	if order.Status != orders.StatusPendingPayment {
		t.Errorf("status = %s, want PENDING_PAYMENT", order.Status)
	}

	history, _ := s.ListStatusHistory(ctx, "ord-1")
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].PreviousStatus != history[0].NewStatus {
		t.Error("recorded event must keep previous and new status equal")
	}
}

func TestListOrdersFilters(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	seedOrder(t, s, "ord-1", orders.StatusPendingPayment)
	seedOrder(t, s, "ord-2", orders.StatusPaid)

	status := orders.StatusPaid
	list, err := s.ListOrders(ctx, orders.ListCriteria{Status: &status})
	if err != nil {
		t.Fatalf("ListOrders(): %v", err)
	}
	if len(list) != 1 || list[0].ID != "ord-2" {
		t.Errorf("status filter returned %d orders, want ord-2 only", len(list))
	}

	var stranger int64 = 99
	list, err = s.ListOrders(ctx, orders.ListCriteria{UserID: &stranger})
	if err != nil {
		t.Fatalf("ListOrders(): %v", err)
	}
	if len(list) != 0 {
		t.Errorf("stranger filter returned %d orders, want 0", len(list))
	}
}

func TestRecordEventDeduplicates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first, err := s.RecordEvent(ctx, "T123", "PAID")
	if err != nil {
		t.Fatalf("RecordEvent(): %v", err)
	}
	if first.ProcessedAt != nil {
		t.Error("fresh record must be unprocessed")
	}

	again, err := s.RecordEvent(ctx, "T123", "PAID")
	if err != nil {
		t.Fatalf("RecordEvent() replay: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("replay returned id %d, want the original %d", again.ID, first.ID)
	}

	other, err := s.RecordEvent(ctx, "T123", "EXPIRED")
	if err != nil {
		t.Fatalf("RecordEvent() other status: %v", err)
	}
	if other.ID == first.ID {
		t.Error("a different status for the same reference is a distinct delivery")
	}

	if err := s.MarkEventProcessed(ctx, first.ID); err != nil {
		t.Fatalf("MarkEventProcessed(): %v", err)
	}
	processed, _ := s.RecordEvent(ctx, "T123", "PAID")
	if processed.ProcessedAt == nil {
		t.Error("processed_at must persist across lookups")
	}
}

func TestCreateTaskIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, "ord-1"); err != nil {
		t.Fatalf("CreateTask(): %v", err)
	}
	first, err := s.GetTaskByOrderID(ctx, "ord-1")
	if err != nil || first == nil {
		t.Fatalf("GetTaskByOrderID() = %v, %v", first, err)
	}
	if first.Status != provisioning.TaskPending {
		t.Errorf("status = %s, want PENDING", first.Status)
	}

	if err := s.CreateTask(ctx, "ord-1"); err != nil {
		t.Fatalf("second CreateTask(): %v", err)
	}
	again, _ := s.GetTaskByOrderID(ctx, "ord-1")
	if again.ID != first.ID {
		t.Errorf("second create produced task %d, want original %d", again.ID, first.ID)
	}
}

func TestUpdateTaskAndStaleListing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, "ord-1"); err != nil {
		t.Fatalf("CreateTask(): %v", err)
	}
	task, _ := s.GetTaskByOrderID(ctx, "ord-1")

	running := provisioning.TaskRunning
	providerID := "ptask-9"
	updated, err := s.UpdateTask(ctx, task.ID, provisioning.TaskUpdateParams{
		Status:         &running,
		ProviderTaskID: &providerID,
	})
	if err != nil {
		t.Fatalf("UpdateTask(): %v", err)
	}
	if updated.Status != provisioning.TaskRunning || updated.ProviderTaskID == nil {
		t.Errorf("update not persisted: %+v", updated)
	}

	stale, err := s.ListStaleTasks(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListStaleTasks(): %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("expected the running task to be listed as stale, got %d", len(stale))
	}

	done := provisioning.TaskCompleted
	if _, err := s.UpdateTask(ctx, task.ID, provisioning.TaskUpdateParams{Status: &done}); err != nil {
		t.Fatalf("UpdateTask(): %v", err)
	}
	stale, _ = s.ListStaleTasks(ctx, time.Now().UTC().Add(time.Minute))
	if len(stale) != 0 {
		t.Errorf("terminal tasks must not be swept, got %d", len(stale))
	}
}

func TestWithTxKeepsSentinelWhenRollbackFails(t *testing.T) {
	s := newTestStorage(t)

	// Committing inside fn makes the deferred rollback fail, which must not
	// knock the domain sentinel out of the error chain.
	err := s.withTx(context.Background(), func(tx *sqlx.Tx) error {
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit inside fn: %v", err)
		}
		return orders.ErrConflict
	})
	if !errors.Is(err, orders.ErrConflict) {
		t.Errorf("withTx() error = %v, want ErrConflict in the chain", err)
	}
}

func TestInvoiceRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := s.CreateInvoice(ctx, billing.Invoice{
		Number:    "INV-20260901-ABCD1234",
		OrderID:   "ord-1",
		UserID:    7,
		Amount:    300,
		Status:    billing.InvoicePending,
		DueAt:     now.Add(24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateInvoice(): %v", err)
	}
	if created.ID == 0 {
		t.Error("invoice id must be assigned")
	}

	byOrder, err := s.GetInvoice(ctx, billing.GetCriteria{OrderID: strPtr("ord-1")})
	if err != nil || byOrder == nil || byOrder.ID != created.ID {
		t.Fatalf("lookup by order failed: %v, %v", byOrder, err)
	}

	ref := "T123"
	channel := "QRIS"
	updated, err := s.UpdateInvoice(ctx, billing.GetCriteria{ID: &created.ID}, billing.UpdateParams{
		GatewayReference: &ref,
		Channel:          &channel,
	})
	if err != nil {
		t.Fatalf("UpdateInvoice(): %v", err)
	}
	if updated.GatewayReference == nil || *updated.GatewayReference != ref {
		t.Error("gateway reference not persisted")
	}

	byRef, err := s.GetInvoice(ctx, billing.GetCriteria{GatewayReference: &ref})
	if err != nil || byRef == nil || byRef.ID != created.ID {
		t.Fatalf("lookup by reference failed: %v, %v", byRef, err)
	}

	missing, err := s.GetInvoice(ctx, billing.GetCriteria{GatewayReference: strPtr("T404")})
	if err != nil {
		t.Fatalf("GetInvoice(): %v", err)
	}
	if missing != nil {
		t.Error("unknown reference must return nil")
	}
}

func TestUpdateInvoiceStatusGuard(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := s.CreateInvoice(ctx, billing.Invoice{
		Number:    "INV-20260901-ABCD1234",
		OrderID:   "ord-1",
		UserID:    7,
		Amount:    300,
		Status:    billing.InvoicePending,
		DueAt:     now.Add(24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateInvoice(): %v", err)
	}

	pending := billing.InvoicePending
	paid := billing.InvoicePaid
	expired := billing.InvoiceExpired

	if _, err := s.UpdateInvoice(ctx, billing.GetCriteria{ID: &created.ID}, billing.UpdateParams{
		ExpectedStatus: &pending,
		Status:         &paid,
		PaidAt:         &now,
	}); err != nil {
		t.Fatalf("UpdateInvoice() to PAID: %v", err)
	}

	// A writer still holding the pending snapshot loses the race and the
	// paid row stays untouched.
	_, err = s.UpdateInvoice(ctx, billing.GetCriteria{ID: &created.ID}, billing.UpdateParams{
		ExpectedStatus: &pending,
		Status:         &expired,
	})
	if !errors.Is(err, billing.ErrInvoiceClosed) {
		t.Fatalf("stale update error = %v, want ErrInvoiceClosed", err)
	}

	got, err := s.GetInvoice(ctx, billing.GetCriteria{ID: &created.ID})
	if err != nil {
		t.Fatalf("GetInvoice(): %v", err)
	}
	if got.Status != billing.InvoicePaid {
		t.Errorf("status = %s, want PAID untouched", got.Status)
	}
	if got.PaidAt == nil {
		t.Error("paid_at must survive the lost race")
	}
}

func TestListOverduePendingInvoices(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := billing.Invoice{
		Number: "INV-1", OrderID: "ord-1", UserID: 7, Amount: 100,
		Status: billing.InvoicePending, DueAt: now.Add(-time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}
	fresh := billing.Invoice{
		Number: "INV-2", OrderID: "ord-2", UserID: 7, Amount: 100,
		Status: billing.InvoicePending, DueAt: now.Add(time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}
	paidLate := billing.Invoice{
		Number: "INV-3", OrderID: "ord-3", UserID: 7, Amount: 100,
		Status: billing.InvoicePaid, DueAt: now.Add(-time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}
	for _, inv := range []billing.Invoice{overdue, fresh, paidLate} {
		if _, err := s.CreateInvoice(ctx, inv); err != nil {
			t.Fatalf("CreateInvoice(%s): %v", inv.Number, err)
		}
	}

	list, err := s.ListOverduePendingInvoices(ctx)
	if err != nil {
		t.Fatalf("ListOverduePendingInvoices(): %v", err)
	}
	if len(list) != 1 || list[0].Number != "INV-1" {
		t.Errorf("expected only INV-1 overdue, got %d entries", len(list))
	}
}

func strPtr(s string) *string { return &s }
