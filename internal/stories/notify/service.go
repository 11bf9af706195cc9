// Package notify fans lifecycle events out to operators. Delivery mechanics
// beyond that (customer email, websockets) live outside this service; this is
// the consumer of the event contract the lifecycle publishes.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rackforge/internal/stories/orders"
)

// Dispatcher implements orders.Publisher. Every event is logged; transitions
// that need human attention are additionally pushed to the admin chats.
// A nil bot disables Telegram delivery.
type Dispatcher struct {
	bot          BotAPI
	adminChatIDs []int64
	logger       *slog.Logger
}

func NewDispatcher(bot BotAPI, adminChatIDs []int64, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bot:          bot,
		adminChatIDs: adminChatIDs,
		logger:       logger,
	}
}

func (d *Dispatcher) Publish(_ context.Context, event orders.LifecycleEvent) {
	d.logger.Info("Order lifecycle event",
		"order_id", event.OrderID,
		"user_id", event.UserID,
		"event", string(event.Event),
		"from", string(event.Previous),
		"to", string(event.Current),
		"actor", event.Actor)

	if d.bot == nil || !needsOperator(event) {
		return
	}

	text := formatOperatorAlert(event)
	for _, chatID := range d.adminChatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := d.bot.Send(msg); err != nil {
			d.logger.Error("Failed to send operator alert",
				"chat_id", chatID,
				"order_id", event.OrderID,
				"error", err)
		}
	}
}

// needsOperator marks events that require manual remediation or forensics.
func needsOperator(event orders.LifecycleEvent) bool {
	return event.Event == orders.EventProvisioningFailed
}

func formatOperatorAlert(event orders.LifecycleEvent) string {
	return fmt.Sprintf(
		"Provisioning failed\nOrder: %s\nUser: %d\nReason: %s\nThe order is in FAILED state and needs manual remediation.",
		event.OrderID, event.UserID, event.Reason,
	)
}
