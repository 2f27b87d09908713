// Package bot implements the Telegram command bot of the daemon.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"qbt_manager/internal/app"
	"qbt_manager/internal/config"
	"qbt_manager/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Runner starts runs on demand and remembers the last one.
type Runner interface {
	Run(ctx context.Context) (app.Summary, error)
	Last() (app.Summary, bool)
}

// HistoryStore reads the download history.
type HistoryStore interface {
	LoadLedger(ctx context.Context) ([]model.LedgerEntry, error)
}

// Bot answers commands from allowed users.
type Bot struct {
	api     telegramAPI
	runner  Runner
	history HistoryStore
	cfg     *config.Config
	log     *slog.Logger
	now     func() time.Time
}

// NewAPI connects to the Bot API with token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// New creates a Bot on top of an existing Bot API connection.
func New(api *tgbotapi.BotAPI, runner Runner, history HistoryStore, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		runner:  runner,
		history: history,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdRun:
		b.handleRun(ctx, chatID)
	case cmdHistory:
		b.handleHistory(ctx, chatID, args)
	case "status":
		b.handleStatus(chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
