package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"rackforge/internal/catalog"
	"rackforge/internal/stories/billing"
)

type initiatePaymentRequest struct {
	Channel string `json:"channel" binding:"required"`
}

func (s *Server) initiatePayment(c *gin.Context) {
	invoiceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}

	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invoice, err := s.billing.InitiatePayment(c.Request.Context(), invoiceID, callerID(c), req.Channel)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownChannel):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment channel"})
		case errors.Is(err, billing.ErrInvoiceClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "invoice is no longer payable"})
		default:
			s.fail(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, newInvoiceResponse(invoice))
}

func (s *Server) paymentChannels(c *gin.Context) {
	channels := s.catalog.Channels()
	c.JSON(http.StatusOK, gin.H{"channels": lo.Map(channels, func(ch catalog.PaymentChannel, _ int) gin.H {
		return gin.H{
			"code":       ch.Code,
			"name":       ch.Name,
			"flatFee":    ch.FlatFee,
			"percentFee": ch.PercentFee,
		}
	})})
}

func invoiceByOrder(orderID string) billing.GetCriteria {
	return billing.GetCriteria{OrderID: &orderID}
}
