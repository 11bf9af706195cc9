package api

import (
	"time"

	"github.com/samber/lo"

	"rackforge/internal/stories/billing"
	"rackforge/internal/stories/orders"
	"rackforge/internal/stories/provisioning"
)

type orderResponse struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"userId"`
	PlanID         string     `json:"planId"`
	ImageID        string     `json:"imageId"`
	Hostname       string     `json:"hostname"`
	DurationMonths int        `json:"durationMonths"`
	Amount         float64    `json:"amount"`
	Status         string     `json:"status"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func newOrderResponse(o *orders.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		PlanID:         o.PlanID,
		ImageID:        o.ImageID,
		Hostname:       o.Hostname,
		DurationMonths: o.DurationMonths,
		Amount:         o.TotalAmount,
		Status:         string(o.Status),
		PaidAt:         o.PaidAt,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type historyEntryResponse struct {
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newHistoryResponse(entries []orders.StatusHistoryEntry) []historyEntryResponse {
	return lo.Map(entries, func(e orders.StatusHistoryEntry, _ int) historyEntryResponse {
		return historyEntryResponse{
			PreviousStatus: string(e.PreviousStatus),
			NewStatus:      string(e.NewStatus),
			Actor:          e.Actor,
			Reason:         e.Reason,
			CreatedAt:      e.CreatedAt,
		}
	})
}

type invoiceResponse struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	OrderID     string     `json:"orderId"`
	Amount      float64    `json:"amount"`
	FeeAmount   float64    `json:"feeAmount,omitempty"`
	Status      string     `json:"status"`
	Channel     *string    `json:"channel,omitempty"`
	PayCode     *string    `json:"payCode,omitempty"`
	CheckoutURL *string    `json:"checkoutUrl,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	DueAt       time.Time  `json:"dueAt"`
}

func newInvoiceResponse(inv *billing.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:          inv.ID,
		Number:      inv.Number,
		OrderID:     inv.OrderID,
		Amount:      inv.Amount,
		FeeAmount:   inv.FeeAmount,
		Status:      string(inv.Status),
		Channel:     inv.Channel,
		PayCode:     inv.PayCode,
		CheckoutURL: inv.CheckoutURL,
		PaidAt:      inv.PaidAt,
		DueAt:       inv.DueAt,
	}
}

type taskResponse struct {
	Status       string     `json:"status"`
	InstanceID   *string    `json:"instanceId,omitempty"`
	InstanceIP   *string    `json:"instanceIp,omitempty"`
	Region       *string    `json:"region,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

func newTaskResponse(t *provisioning.Task) taskResponse {
	return taskResponse{
		Status:       string(t.Status),
		InstanceID:   t.InstanceID,
		InstanceIP:   t.InstanceIP,
		Region:       t.Region,
		ErrorMessage: t.ErrorMessage,
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
	}
}
