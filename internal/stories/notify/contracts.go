package notify

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// BotAPI is the slice of the Telegram client the dispatcher needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
