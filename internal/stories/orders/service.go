package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rackforge/internal/catalog"
)

type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// Service handles order creation and reads. Status mutations are owned by
// Lifecycle, never done here.
type Service struct {
	storage   Storage
	catalog   *catalog.Catalog
	lifecycle *Lifecycle
	invoices  InvoiceCreator
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(storage Storage, cat *catalog.Catalog, lifecycle *Lifecycle, invoices InvoiceCreator, logger *slog.Logger) *Service {
	return &Service{
		storage:   storage,
		catalog:   cat,
		lifecycle: lifecycle,
		invoices:  invoices,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder validates the plan/image selection, prices the order and opens
// its invoice. The order starts in PENDING_PAYMENT.
func (s *Service) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	plan, ok := s.catalog.Plan(params.PlanID)
	if !ok {
		return nil, &ValidationError{Field: "plan_id", Detail: "unknown plan"}
	}
	if _, ok := s.catalog.Image(params.ImageID); !ok {
		return nil, &ValidationError{Field: "image_id", Detail: "unknown image"}
	}
	if params.DurationMonths < 1 || params.DurationMonths > 24 {
		return nil, &ValidationError{Field: "duration_months", Detail: "must be between 1 and 24"}
	}
	if params.Hostname == "" {
		return nil, &ValidationError{Field: "hostname", Detail: "must not be empty"}
	}

	total := plan.MonthlyPrice * float64(params.DurationMonths)
	if params.CouponCode != nil {
		coupon, ok := s.catalog.Coupon(*params.CouponCode)
		if !ok {
			return nil, &ValidationError{Field: "coupon_code", Detail: "unknown coupon"}
		}
		total = total * (100 - coupon.PercentOff) / 100
	}

	now := s.now()
	order := Order{
		ID:             uuid.New().String(),
		UserID:         params.UserID,
		PlanID:         params.PlanID,
		ImageID:        params.ImageID,
		DurationMonths: params.DurationMonths,
		Hostname:       params.Hostname,
		CouponCode:     params.CouponCode,
		TotalAmount:    total,
		Status:         StatusPendingPayment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.storage.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.invoices.CreateForOrder(ctx, created.ID, created.UserID, created.TotalAmount); err != nil {
		return nil, fmt.Errorf("create invoice for order %s: %w", created.ID, err)
	}

	s.logger.Info("Order created",
		"order_id", created.ID,
		"user_id", created.UserID,
		"plan_id", created.PlanID,
		"total", created.TotalAmount)

	return created, nil
}

// GetOrderFor fetches an order on behalf of a caller. Non-admin callers may
// only read their own orders.
func (s *Service) GetOrderFor(ctx context.Context, id string, userID int64, admin bool) (*Order, error) {
	order, err := s.storage.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}
	if !admin && order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, criteria ListCriteria) ([]*Order, error) {
	return s.storage.ListOrders(ctx, criteria)
}

func (s *Service) StatusHistory(ctx context.Context, orderID string) ([]*StatusHistoryEntry, error) {
	return s.storage.ListStatusHistory(ctx, orderID)
}

// Cancel requests cancellation on behalf of the owner. Only unpaid orders can
// be cancelled; anything later conflicts.
func (s *Service) Cancel(ctx context.Context, id string, userID int64) (*ApplyResult, error) {
	order, err := s.GetOrderFor(ctx, id, userID, false)
	if err != nil {
		return nil, err
	}

	return s.lifecycle.Apply(ctx, ApplyParams{
		OrderID: order.ID,
		Event:   EventCancelRequested,
		Actor:   fmt.Sprintf("customer:%d", userID),
		Reason:  "cancelled by customer",
	})
}
