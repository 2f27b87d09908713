package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"qbt_manager/internal/app"
	"qbt_manager/internal/bot"
	"qbt_manager/internal/cleanup"
	"qbt_manager/internal/config"
	"qbt_manager/internal/fetcher"
	"qbt_manager/internal/intake"
	"qbt_manager/internal/metrics"
	"qbt_manager/internal/notify"
	"qbt_manager/internal/policy"
	"qbt_manager/internal/qbittorrent"
	"qbt_manager/internal/storage"
)

const (
	feedTimeout = 30 * time.Second
	feedRetries = 3
)

func loadConfig(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s (use --config to point at another file)", err, flags.configPath)
		}
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid settings: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openStore(path string) (storage.LedgerStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return store, nil
}

// service holds everything a run needs.
type service struct {
	runner *app.Runner
	store  storage.LedgerStore
	botAPI *tgbotapi.BotAPI
}

func (s *service) Close() error {
	return s.store.Close()
}

func newService(ctx context.Context, cfg *config.Config, dryRun bool, log *slog.Logger) (*service, error) {
	store, err := openStore(cfg.HistoryPath)
	if err != nil {
		return nil, err
	}

	qb, err := qbittorrent.New(ctx, cfg.QBTConfig(), log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var client qbittorrent.API = qb
	if dryRun {
		client = qbittorrent.NewDryRun(qb, log)
	}

	ignorer, err := policy.CompileIgnores(cfg.Ignore)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("compile ignore expressions: %w", err)
	}

	var botAPI *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		botAPI, err = bot.NewAPI(cfg.Telegram.Token)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	notifier := newNotifier(cfg, botAPI, log)
	if dryRun && notifier != nil {
		log.Info("dry run, notifications disabled")
		notifier = nil
	}
	m := metrics.New()

	cleaner := cleanup.New(client, cfg.Policy(), ignorer, notifier, m, log.With("phase", "cleanup"))
	pipeline := intake.New(
		fetcher.New(fetcher.NewHTTPClient(feedTimeout, feedRetries, log)),
		client,
		store,
		notifier,
		m,
		intake.Config{
			Category:        cfg.RSSCategory,
			SubmitPerMinute: cfg.SubmitRatePerMinute,
			DryRun:          dryRun,
			NotifyOnAdd:     cfg.Notify.OnAdd,
		},
		log.With("phase", "intake"),
	)

	runner := app.NewRunner(cleaner, pipeline, m, app.Options{
		Feeds:       cfg.Feeds(),
		MetricsFile: cfg.MetricsFile,
		DryRun:      dryRun,
	}, log)

	return &service{runner: runner, store: store, botAPI: botAPI}, nil
}

// newNotifier returns nil when no channel is configured.
func newNotifier(cfg *config.Config, botAPI *tgbotapi.BotAPI, log *slog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.EmailEnabled() {
		notifiers = append(notifiers, notify.NewEmail(cfg.EmailConfig()))
	}
	if botAPI != nil && cfg.Telegram.ChatID != 0 {
		notifiers = append(notifiers, notify.NewTelegram(botAPI, cfg.Telegram.ChatID))
	}
	if len(notifiers) == 0 {
		log.Debug("no notification channel configured")
		return nil
	}
	return notify.NewMulti(log, notifiers...)
}
