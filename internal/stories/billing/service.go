package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rackforge/internal/catalog"
	"rackforge/internal/stories/orders"
)

// Service owns the invoice ledger. Invoices are created together with orders,
// become payable through InitiatePayment and immutable once paid or expired.
type Service struct {
	storage    Storage
	catalog    *catalog.Catalog
	gateway    Gateway
	lifecycle  *orders.Lifecycle
	invoiceTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(storage Storage, cat *catalog.Catalog, gateway Gateway, lifecycle *orders.Lifecycle, invoiceTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		storage:    storage,
		catalog:    cat,
		gateway:    gateway,
		lifecycle:  lifecycle,
		invoiceTTL: invoiceTTL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateForOrder opens the PENDING invoice for a freshly created order.
// Implements orders.InvoiceCreator.
func (s *Service) CreateForOrder(ctx context.Context, orderID string, userID int64, amount float64) error {
	now := s.now()
	invoice := Invoice{
		Number:    newInvoiceNumber(now),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Status:    InvoicePending,
		DueAt:     now.Add(s.invoiceTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.storage.CreateInvoice(ctx, invoice)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}

	s.logger.Info("Invoice created",
		"invoice", created.Number,
		"order_id", orderID,
		"amount", amount,
		"due_at", created.DueAt)
	return nil
}

// InitiatePayment selects a payment channel and opens a gateway transaction
// for the invoice. The gateway reference it returns is what callbacks are
// correlated and deduplicated by.
func (s *Service) InitiatePayment(ctx context.Context, invoiceID int64, userID int64, channelCode string) (*Invoice, error) {
	invoice, err := s.storage.GetInvoice(ctx, GetCriteria{ID: &invoiceID})
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	if invoice.UserID != userID {
		return nil, orders.ErrForbidden
	}
	if invoice.Status.Closed() {
		return nil, ErrInvoiceClosed
	}

	channel, ok := s.catalog.Channel(channelCode)
	if !ok {
		return nil, ErrUnknownChannel
	}

	fee := channel.FlatFee + invoice.Amount*channel.PercentFee/100

	tx, err := s.gateway.CreateTransaction(ctx, CreateTransactionParams{
		MerchantRef:  invoice.Number,
		Amount:       invoice.Amount + fee,
		Method:       channel.Code,
		CustomerName: fmt.Sprintf("user-%d", userID),
		ExpiredAt:    invoice.DueAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway transaction: %w", err)
	}

	updated, err := s.storage.UpdateInvoice(ctx, GetCriteria{ID: &invoice.ID}, UpdateParams{
		ExpectedStatus:   &invoice.Status,
		Channel:          &channel.Code,
		GatewayReference: &tx.Reference,
		PayCode:          &tx.PayCode,
		CheckoutURL:      &tx.CheckoutURL,
		FeeAmount:        &fee,
	})
	if err != nil {
		return nil, fmt.Errorf("update invoice with gateway data: %w", err)
	}

	s.logger.Info("Payment initiated",
		"invoice", invoice.Number,
		"channel", channel.Code,
		"reference", tx.Reference,
		"fee", fee)

	return updated, nil
}

func (s *Service) GetInvoice(ctx context.Context, criteria GetCriteria) (*Invoice, error) {
	return s.storage.GetInvoice(ctx, criteria)
}

// MarkPaid closes the invoice as paid. Marking an already-paid invoice again
// is a no-op so callback replays converge; any other closed status conflicts.
// The status snapshot guards the write, so a writer holding a stale open
// invoice cannot overwrite one that closed in the meantime.
func (s *Service) MarkPaid(ctx context.Context, invoice *Invoice, paidAt time.Time) (*Invoice, error) {
	if invoice.Status == InvoicePaid {
		return invoice, nil
	}
	if invoice.Status.Closed() {
		return nil, ErrInvoiceClosed
	}

	status := InvoicePaid
	return s.storage.UpdateInvoice(ctx, GetCriteria{ID: &invoice.ID}, UpdateParams{
		ExpectedStatus: &invoice.Status,
		Status:         &status,
		PaidAt:         &paidAt,
	})
}

// MarkExpired closes the invoice as expired; no-op if already expired. Guarded
// by the status snapshot like MarkPaid.
func (s *Service) MarkExpired(ctx context.Context, invoice *Invoice) (*Invoice, error) {
	if invoice.Status == InvoiceExpired {
		return invoice, nil
	}
	if invoice.Status.Closed() {
		return nil, ErrInvoiceClosed
	}

	status := InvoiceExpired
	return s.storage.UpdateInvoice(ctx, GetCriteria{ID: &invoice.ID}, UpdateParams{
		ExpectedStatus: &invoice.Status,
		Status:         &status,
	})
}

// ExpireOverdue expires every pending invoice past its due time and moves the
// matching order to EXPIRED. Called from the invoice-expiry worker.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.storage.ListOverduePendingInvoices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list overdue invoices: %w", err)
	}

	expired := 0
	for _, invoice := range overdue {
		if _, err := s.MarkExpired(ctx, invoice); err != nil {
			s.logger.Error("Failed to expire invoice", "invoice", invoice.Number, "error", err)
			continue
		}

		_, err := s.lifecycle.Apply(ctx, orders.ApplyParams{
			OrderID: invoice.OrderID,
			Event:   orders.EventPaymentExpired,
			Actor:   "system:invoice-expiry",
			Reason:  fmt.Sprintf("invoice %s not paid before %s", invoice.Number, invoice.DueAt.Format(time.RFC3339)),
		})
		if err != nil && !errors.Is(err, orders.ErrConflict) {
			s.logger.Error("Failed to expire order", "order_id", invoice.OrderID, "error", err)
			continue
		}
		expired++
	}

	return expired, nil
}

// newInvoiceNumber builds numbers like INV-20260901-1A2B3C4D.
func newInvoiceNumber(now time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), short)
}
