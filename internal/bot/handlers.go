package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"qbt_manager/internal/app"
	"qbt_manager/internal/model"
)

const (
	defaultHistoryCount = 10
	maxHistoryCount     = 50
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to QBT Manager!

This bot controls the qBittorrent housekeeping service: it removes torrents
that outlived their tracker rule and downloads new RSS items.

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/run — run cleanup and RSS intake now
/status — show the last run and the schedule
/history [count] — show recently downloaded items (default 10, max 50)`)
}

func (b *Bot) handleRun(ctx context.Context, chatID int64) {
	b.reply(chatID, "Run started…")

	sum, err := b.runner.Run(ctx)
	if errors.Is(err, app.ErrBusy) {
		b.reply(chatID, "A run is already in progress.")
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Run failed: %v", err))
		return
	}
	b.reply(chatID, FormatSummary(sum))
}

func (b *Bot) handleStatus(chatID int64) {
	last, ok := b.runner.Last()
	b.reply(chatID, FormatStatus(last, ok, b.cfg.Schedule, b.now()))
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64, args string) {
	count, err := ParseCountArg(args, defaultHistoryCount, maxHistoryCount)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.sendHistory(ctx, chatID, 0, count)
}

// sendHistory sends one page of the history, newest first, with a button
// for the next page when there is one.
func (b *Bot) sendHistory(ctx context.Context, chatID int64, offset, count int) {
	entries, err := b.history.LoadLedger(ctx)
	if err != nil {
		b.log.Error("load download history", "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to read download history: %v", err))
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FirstSeen.After(entries[j].FirstSeen)
	})

	page := pageOf(entries, offset, count)
	msg := tgbotapi.NewMessage(chatID, FormatHistory(page, offset, len(entries), b.now()))
	msg.DisableWebPagePreview = true
	if next := offset + len(page); len(page) > 0 && next < len(entries) {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Older", historyCallbackData(next, count)),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send history", "chat_id", chatID, "error", err)
	}
}

func pageOf(entries []model.LedgerEntry, offset, count int) []model.LedgerEntry {
	if offset >= len(entries) {
		return nil
	}
	end := offset + count
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}
