package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rackforge/internal/catalog"
	"rackforge/internal/stories/billing"
	"rackforge/internal/stories/orders"
	"rackforge/internal/stories/provisioning"
	"rackforge/internal/stories/webhooks"
)

type Config struct {
	JWTSecret      string
	InternalAPIKey string
}

// Server owns the HTTP surface: the customer API, the gateway callback, and
// the internal admin API.
type Server struct {
	orders       *orders.Service
	billing      *billing.Service
	webhooks     *webhooks.Service
	provisioning *provisioning.Service
	lifecycle    *orders.Lifecycle
	catalog      *catalog.Catalog
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func NewServer(
	ordersSvc *orders.Service,
	billingSvc *billing.Service,
	webhooksSvc *webhooks.Service,
	provisioningSvc *provisioning.Service,
	lifecycle *orders.Lifecycle,
	cat *catalog.Catalog,
	cfg Config,
	logger *slog.Logger,
) *Server {
	return &Server{
		orders:       ordersSvc,
		billing:      billingSvc,
		webhooks:     webhooksSvc,
		provisioning: provisioningSvc,
		lifecycle:    lifecycle,
		catalog:      cat,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/tripay", s.tripayCallback)
		v1.GET("/payment-channels", s.paymentChannels)

		authed := v1.Group("", JWTAuth(s.cfg.JWTSecret))
		{
			authed.POST("/orders", s.createOrder)
			authed.GET("/orders", s.listOrders)
			authed.GET("/orders/:id", s.getOrder)
			authed.GET("/orders/:id/history", s.orderHistory)
			authed.POST("/orders/:id/cancel", s.cancelOrder)
			authed.POST("/invoices/:id/payment", s.initiatePayment)
		}
	}

	internal := router.Group("/internal",
		APIKeyAuth(s.cfg.InternalAPIKey), JWTAuth(s.cfg.JWTSecret), RequireAdmin())
	{
		internal.GET("/orders", s.adminListOrders)
		internal.GET("/orders/:id", s.adminGetOrder)
		internal.POST("/orders/:id/payment-status", s.overridePaymentStatus)
	}

	return router
}

// fail maps domain sentinels to HTTP statuses; anything unmapped is a 500
// with the detail kept in the log, not the response.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, billing.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, orders.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
