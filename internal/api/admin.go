package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"rackforge/internal/stories/orders"
)

type paymentOverrideRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// overridePaymentStatus lets support staff settle payment facts the gateway
// never delivered, for example a manual bank transfer. It runs through the
// same lifecycle as webhooks, so it can never put an order into a state a
// webhook could not.
func (s *Server) overridePaymentStatus(c *gin.Context) {
	var req paymentOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var event orders.Event
	switch req.Status {
	case string(orders.StatusPaid):
		event = orders.EventPaymentConfirmed
	case "PAYMENT_FAILED":
		event = orders.EventPaymentFailed
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be PAID or PAYMENT_FAILED"})
		return
	}

	orderID := c.Param("id")
	actor := fmt.Sprintf("admin:%d", callerID(c))
	reason := req.Notes
	if reason == "" {
		reason = "manual override"
	}

	result, err := s.lifecycle.Apply(c.Request.Context(), orders.ApplyParams{
		OrderID: orderID,
		Event:   event,
		Actor:   actor,
		Reason:  reason,
	})
	if err != nil {
		if errors.Is(err, orders.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "order status does not allow this override"})
			return
		}
		s.fail(c, err)
		return
	}

	// A manual PAID means money arrived outside the gateway. Settle the
	// invoice too so the expiry worker leaves it alone.
	if event == orders.EventPaymentConfirmed && result.Changed {
		if invoice, ierr := s.billing.GetInvoice(c.Request.Context(), invoiceByOrder(orderID)); ierr == nil && invoice != nil {
			if _, merr := s.billing.MarkPaid(c.Request.Context(), invoice, s.now()); merr != nil {
				s.logger.Warn("override applied but invoice not settled",
					"order_id", orderID, "error", merr)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         string(result.Current),
		"previousStatus": string(result.Previous),
	})
}

func (s *Server) adminListOrders(c *gin.Context) {
	criteria := orders.ListCriteria{Limit: 100}
	if raw := c.Query("status"); raw != "" {
		status := orders.Status(raw)
		criteria.Status = &status
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			criteria.Limit = limit
		}
	}

	list, err := s.orders.ListOrders(c.Request.Context(), criteria)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": lo.Map(list, func(o *orders.Order, _ int) orderResponse {
		return newOrderResponse(o)
	})})
}

// adminGetOrder returns the full picture for support: the order, its status
// history, the invoice, and the provisioning task if one exists.
func (s *Server) adminGetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	order, err := s.orders.GetOrderFor(ctx, orderID, callerID(c), true)
	if err != nil {
		s.fail(c, err)
		return
	}

	history, err := s.orders.StatusHistory(ctx, orderID)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{
		"order":   newOrderResponse(order),
		"history": newHistoryResponse(deref(history)),
	}
	if invoice, err := s.billing.GetInvoice(ctx, invoiceByOrder(orderID)); err == nil && invoice != nil {
		resp["invoice"] = newInvoiceResponse(invoice)
	}
	if task, err := s.provisioning.TaskForOrder(ctx, orderID); err == nil && task != nil {
		resp["task"] = newTaskResponse(task)
	}

	c.JSON(http.StatusOK, resp)
}
