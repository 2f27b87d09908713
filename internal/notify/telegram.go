package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxTelegramRunes is the message length limit of the Bot API.
const maxTelegramRunes = 4096

// TelegramSender is the part of the Bot API the notifier needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications to a single chat.
type Telegram struct {
	api    TelegramSender
	chatID int64
}

// NewTelegram returns a Telegram notifier posting to chatID.
func NewTelegram(api TelegramSender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID}
}

// Notify posts the subject and body as one message.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(t.chatID, Truncate(msg.Subject+"\n\n"+msg.Body, maxTelegramRunes))
	m.DisableWebPagePreview = true
	if _, err := t.api.Send(m); err != nil {
		return fmt.Errorf("send telegram message to %d: %w", t.chatID, err)
	}
	return nil
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
