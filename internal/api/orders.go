package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"rackforge/internal/stories/orders"
)

type createOrderRequest struct {
	PlanID         string  `json:"planId" binding:"required"`
	ImageID        string  `json:"imageId" binding:"required"`
	DurationMonths int     `json:"durationMonths" binding:"required"`
	Hostname       string  `json:"hostname" binding:"required"`
	CouponCode     *string `json:"couponCode"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.orders.CreateOrder(c.Request.Context(), orders.CreateOrderParams{
		UserID:         callerID(c),
		PlanID:         req.PlanID,
		ImageID:        req.ImageID,
		DurationMonths: req.DurationMonths,
		Hostname:       req.Hostname,
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		var verr *orders.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Detail, "field": verr.Field})
			return
		}
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.GetOrderFor(c.Request.Context(), c.Param("id"), callerID(c), callerIsAdmin(c))
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"order": newOrderResponse(order)}
	if invoice, err := s.billing.GetInvoice(c.Request.Context(), invoiceByOrder(order.ID)); err == nil && invoice != nil {
		resp["invoice"] = newInvoiceResponse(invoice)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listOrders(c *gin.Context) {
	userID := callerID(c)
	list, err := s.orders.ListOrders(c.Request.Context(), orders.ListCriteria{UserID: &userID})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": lo.Map(list, func(o *orders.Order, _ int) orderResponse {
		return newOrderResponse(o)
	})})
}

func (s *Server) cancelOrder(c *gin.Context) {
	result, err := s.orders.Cancel(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		if errors.Is(err, orders.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "order cannot be cancelled in its current status"})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         string(result.Current),
		"previousStatus": string(result.Previous),
	})
}

func (s *Server) orderHistory(c *gin.Context) {
	if _, err := s.orders.GetOrderFor(c.Request.Context(), c.Param("id"), callerID(c), callerIsAdmin(c)); err != nil {
		s.fail(c, err)
		return
	}
	entries, err := s.orders.StatusHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": newHistoryResponse(deref(entries))})
}

func deref(entries []*orders.StatusHistoryEntry) []orders.StatusHistoryEntry {
	return lo.Map(entries, func(e *orders.StatusHistoryEntry, _ int) orders.StatusHistoryEntry {
		return *e
	})
}
