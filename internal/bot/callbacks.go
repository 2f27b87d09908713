package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdRun     = "run"
	cmdHistory = "history"
)

func historyCallbackData(offset, count int) string {
	return fmt.Sprintf("%s:%d:%d", cmdHistory, offset, count)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	offset, count, err := ParseHistoryCallback(cb.Data)
	if err != nil {
		b.log.Debug("ignore callback", "data", cb.Data, "error", err)
		return
	}

	b.log.Info("callback", "data", cb.Data, "chat_id", chatID)
	b.sendHistory(ctx, chatID, offset, count)
}
