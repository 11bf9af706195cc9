// Package telegram wraps the bot API used for operator alerts. The bot is
// send-only here: no update polling, just rate-limited pushes to admin chats.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type Client struct {
	api     *tgbotapi.BotAPI
	logger  *slog.Logger
	limiter *rate.Limiter
}

func NewClient(token string, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	// Telegram allows about 30 messages per second.
	return &Client{
		api:     bot,
		logger:  logger,
		limiter: rate.NewLimiter(30, 1),
	}, nil
}

// Send implements notify.BotAPI with rate limiting applied.
func (c *Client) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("rate limiting: %w", err)
	}
	return c.api.Send(msg)
}
