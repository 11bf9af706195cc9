package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rackforge/internal/metrics"
	"rackforge/internal/stories/billing"
	"rackforge/internal/stories/orders"
)

// Service turns signed gateway callbacks into at-most-one lifecycle event per
// (reference, status). The gateway retries on any non-2xx answer, so every
// recognized delivery, including duplicates and stale ones, must end in 200.
type Service struct {
	storage    Storage
	invoices   Invoices
	lifecycle  Lifecycle
	privateKey []byte
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(storage Storage, invoices Invoices, lifecycle Lifecycle, privateKey string, logger *slog.Logger) *Service {
	return &Service{
		storage:    storage,
		invoices:   invoices,
		lifecycle:  lifecycle,
		privateKey: []byte(privateKey),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle verifies, deduplicates and applies one callback delivery.
func (s *Service) Handle(ctx context.Context, body []byte, signature string) (*Result, error) {
	if !s.verifySignature(body, signature) {
		metrics.WebhookCallbacks.WithLabelValues("invalid_signature").Inc()
		return nil, ErrInvalidSignature
	}

	var callback Callback
	if err := json.Unmarshal(body, &callback); err != nil {
		metrics.WebhookCallbacks.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if callback.Reference == "" || callback.Status == "" {
		metrics.WebhookCallbacks.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: reference and status are required", ErrMalformedPayload)
	}

	// Record the dedup key before acting on the payload. A delivery that was
	// fully processed before is acknowledged without touching any state.
	record, err := s.storage.RecordEvent(ctx, callback.Reference, callback.Status)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if record.ProcessedAt != nil {
		s.logger.Info("Duplicate gateway callback acknowledged",
			"reference", callback.Reference,
			"status", callback.Status)
		metrics.WebhookCallbacks.WithLabelValues("duplicate").Inc()
		return &Result{Reference: callback.Reference, Duplicate: true}, nil
	}

	invoice, err := s.findInvoice(ctx, callback)
	if err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, invoice, callback)
	if err != nil {
		// Leave the event unprocessed: the gateway retry re-drives it and the
		// invoice/order updates below are individually idempotent.
		return nil, err
	}

	if err := s.storage.MarkEventProcessed(ctx, record.ID); err != nil {
		return nil, fmt.Errorf("mark webhook event processed: %w", err)
	}

	return result, nil
}

func (s *Service) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.privateKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Service) findInvoice(ctx context.Context, callback Callback) (*billing.Invoice, error) {
	invoice, err := s.invoices.GetInvoice(ctx, billing.GetCriteria{GatewayReference: &callback.Reference})
	if err != nil {
		return nil, fmt.Errorf("get invoice by reference: %w", err)
	}
	if invoice == nil && callback.MerchantRef != "" {
		invoice, err = s.invoices.GetInvoice(ctx, billing.GetCriteria{Number: &callback.MerchantRef})
		if err != nil {
			return nil, fmt.Errorf("get invoice by merchant ref: %w", err)
		}
	}
	if invoice == nil {
		s.logger.Warn("Gateway callback matches no invoice",
			"reference", callback.Reference,
			"merchant_ref", callback.MerchantRef)
		metrics.WebhookCallbacks.WithLabelValues("unknown_reference").Inc()
		return nil, ErrUnknownReference
	}
	return invoice, nil
}

// apply updates the invoice first, then the order. Both halves tolerate
// replays, so a crash between them converges on the gateway's retry.
func (s *Service) apply(ctx context.Context, invoice *billing.Invoice, callback Callback) (*Result, error) {
	actor := "webhook:" + callback.Reference

	switch callback.Status {
	case CallbackStatusPaid:
		if invoice.Status.Closed() && invoice.Status != billing.InvoicePaid {
			// A PAID callback for an invoice that already expired or was
			// cancelled must not resurrect the order.
			s.logger.Warn("Stale PAID callback ignored",
				"reference", callback.Reference,
				"invoice", invoice.Number,
				"invoice_status", string(invoice.Status))
			metrics.WebhookCallbacks.WithLabelValues("ignored").Inc()
			return &Result{
				Reference: callback.Reference,
				OrderID:   invoice.OrderID,
				Ignored:   true,
				Note:      fmt.Sprintf("invoice already %s", invoice.Status),
			}, nil
		}

		paidAt := s.now()
		if callback.PaidAt > 0 {
			paidAt = time.Unix(callback.PaidAt, 0).UTC()
		}
		if _, err := s.invoices.MarkPaid(ctx, invoice, paidAt); err != nil {
			return nil, fmt.Errorf("mark invoice paid: %w", err)
		}

		return s.applyOrderEvent(ctx, invoice, callback, orders.EventPaymentConfirmed, actor,
			fmt.Sprintf("payment confirmed by gateway, reference %s", callback.Reference))

	case CallbackStatusExpired:
		if _, err := s.invoices.MarkExpired(ctx, invoice); err != nil && !errors.Is(err, billing.ErrInvoiceClosed) {
			return nil, fmt.Errorf("mark invoice expired: %w", err)
		}
		return s.applyOrderEvent(ctx, invoice, callback, orders.EventPaymentExpired, actor,
			fmt.Sprintf("payment window expired, reference %s", callback.Reference))

	case CallbackStatusFailed:
		// Recorded but not a transition: the order stays payable.
		reason := fmt.Sprintf("payment attempt failed, reference %s", callback.Reference)
		if invoice.Channel != nil {
			reason = fmt.Sprintf("payment attempt failed on channel %s, reference %s", *invoice.Channel, callback.Reference)
		}
		return s.applyOrderEvent(ctx, invoice, callback, orders.EventPaymentFailed, actor, reason)

	default:
		s.logger.Info("Unsupported gateway status ignored",
			"reference", callback.Reference,
			"status", callback.Status)
		metrics.WebhookCallbacks.WithLabelValues("ignored").Inc()
		return &Result{
			Reference: callback.Reference,
			OrderID:   invoice.OrderID,
			Ignored:   true,
			Note:      "unsupported status " + callback.Status,
		}, nil
	}
}

func (s *Service) applyOrderEvent(ctx context.Context, invoice *billing.Invoice, callback Callback, event orders.Event, actor, reason string) (*Result, error) {
	result, err := s.lifecycle.Apply(ctx, orders.ApplyParams{
		OrderID: invoice.OrderID,
		Event:   event,
		Actor:   actor,
		Reason:  reason,
	})
	if err != nil {
		if errors.Is(err, orders.ErrConflict) {
			// The fact already landed (or can no longer apply); nothing left
			// to converge, so acknowledge the delivery.
			s.logger.Info("Callback resolved as conflict",
				"reference", callback.Reference,
				"order_id", invoice.OrderID,
				"event", string(event),
				"duplicate", result != nil && result.Duplicate)
			metrics.WebhookCallbacks.WithLabelValues("ignored").Inc()
			return &Result{
				Reference: callback.Reference,
				OrderID:   invoice.OrderID,
				Ignored:   true,
				Note:      "order state already settled",
			}, nil
		}
		return nil, fmt.Errorf("apply %s to order %s: %w", event, invoice.OrderID, err)
	}

	s.logger.Info("Gateway callback processed",
		"reference", callback.Reference,
		"order_id", invoice.OrderID,
		"event", string(event),
		"from", string(result.Previous),
		"to", string(result.Current))
	metrics.WebhookCallbacks.WithLabelValues("processed").Inc()

	return &Result{Reference: callback.Reference, OrderID: invoice.OrderID}, nil
}
