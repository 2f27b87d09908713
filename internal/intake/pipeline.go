// Package intake polls RSS feeds and submits items that were never
// downloaded before.
package intake

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"qbt_manager/internal/filter"
	"qbt_manager/internal/ledger"
	"qbt_manager/internal/metrics"
	"qbt_manager/internal/model"
	"qbt_manager/internal/notify"
)

// DefaultCategory is used when neither the feed nor the settings name one.
const DefaultCategory = "freeleech"

// FeedSource reads the items of a feed.
type FeedSource interface {
	Fetch(ctx context.Context, url string) ([]model.FeedItem, error)
}

// Submitter hands a download URL to the torrent client.
type Submitter interface {
	AddTorrent(ctx context.Context, url, category string) error
}

// Config controls a pipeline.
type Config struct {
	Category string
	// SubmitPerMinute caps submissions; zero means no cap.
	SubmitPerMinute int
	DryRun          bool
	NotifyOnAdd     bool
}

// Result summarises one pipeline run.
type Result struct {
	Feeds        int
	FeedErrors   int
	Items        int
	Filtered     int
	NoURL        int
	Duplicates   int
	Submitted    int
	SubmitErrors int
	Added        []model.FeedItem
}

// Pipeline fetches feeds, deduplicates against the ledger and submits new items.
type Pipeline struct {
	source   FeedSource
	submit   Submitter
	store    ledger.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	limiter  ratelimit.Limiter
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline. notifier may be nil.
func New(
	source FeedSource,
	submit Submitter,
	store ledger.Store,
	notifier notify.Notifier,
	m *metrics.Metrics,
	cfg Config,
	log *slog.Logger,
) *Pipeline {
	if cfg.Category == "" {
		cfg.Category = DefaultCategory
	}
	limiter := ratelimit.NewUnlimited()
	if cfg.SubmitPerMinute > 0 {
		limiter = ratelimit.New(cfg.SubmitPerMinute, ratelimit.Per(time.Minute))
	}
	return &Pipeline{
		source:   source,
		submit:   submit,
		store:    store,
		notifier: notifier,
		metrics:  m,
		limiter:  limiter,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run processes feeds in order. The ledger is loaded once before the first
// feed and saved once after the last one, also when ctx is cancelled midway.
// Fetch and submit failures are logged and skipped. The returned error is
// only set when the ledger could not be saved.
func (p *Pipeline) Run(ctx context.Context, feeds []model.Feed) (Result, error) {
	var res Result
	led := ledger.Load(ctx, p.store, p.log)

	for _, feed := range feeds {
		if ctx.Err() != nil {
			p.log.Warn("intake interrupted", "error", ctx.Err())
			break
		}
		res.Feeds++
		p.runFeed(ctx, feed, led, &res)
	}

	p.log.Info("intake finished",
		"feeds", res.Feeds,
		"items", res.Items,
		"submitted", res.Submitted,
		"duplicates", res.Duplicates,
		"errors", res.FeedErrors+res.SubmitErrors,
	)

	if p.cfg.DryRun {
		return res, nil
	}

	if led.Added() > 0 {
		// Cancellation must not prevent recording what was already submitted.
		saveCtx := context.WithoutCancel(ctx)
		if err := led.Save(saveCtx, p.store); err != nil {
			p.log.Error("save download history", "error", err)
			return res, err
		}
	}

	if p.cfg.NotifyOnAdd && p.notifier != nil && len(res.Added) > 0 {
		if err := p.notifier.Notify(ctx, notify.AddedMessage(res.Added)); err != nil {
			p.metrics.Notifications.WithLabelValues("error").Inc()
			p.log.Error("send added notification", "error", err)
		} else {
			p.metrics.Notifications.WithLabelValues("sent").Inc()
		}
	}
	return res, nil
}

func (p *Pipeline) runFeed(ctx context.Context, feed model.Feed, led *ledger.Ledger, res *Result) {
	log := p.log.With("feed", feedLabel(feed))

	filters, err := filter.Compile(feed.Filters)
	if err != nil {
		res.FeedErrors++
		p.metrics.FeedErrors.WithLabelValues(feedLabel(feed)).Inc()
		log.Error("invalid feed filters", "error", err)
		return
	}

	items, err := p.source.Fetch(ctx, feed.URL)
	if err != nil {
		res.FeedErrors++
		p.metrics.FeedErrors.WithLabelValues(feedLabel(feed)).Inc()
		log.Error("fetch feed", "error", err)
		return
	}
	if len(items) == 0 {
		log.Info("feed has no items")
		return
	}
	log.Debug("feed fetched", "items", len(items))

	category := p.cfg.Category
	if c := strings.TrimSpace(feed.Category); c != "" {
		category = c
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		res.Items++

		if !filters.Match(item) {
			res.Filtered++
			p.metrics.FeedItems.WithLabelValues("filtered").Inc()
			log.Debug("item filtered", "title", item.Title)
			continue
		}
		if item.SourceURL == "" {
			res.NoURL++
			p.metrics.FeedItems.WithLabelValues("no_url").Inc()
			log.Debug("item has no download url", "title", item.Title)
			continue
		}
		if led.Contains(item.SourceURL) {
			res.Duplicates++
			p.metrics.FeedItems.WithLabelValues("duplicate").Inc()
			log.Debug("already downloaded", "title", item.Title)
			continue
		}

		if p.cfg.DryRun {
			log.Info("dry run: would add torrent", "title", item.Title, "category", category)
			led.Record(item.Title, item.SourceURL, p.now())
			res.Submitted++
			res.Added = append(res.Added, item)
			continue
		}

		p.limiter.Take()
		if err := p.submit.AddTorrent(ctx, item.SourceURL, category); err != nil {
			res.SubmitErrors++
			p.metrics.FeedItems.WithLabelValues("submit_error").Inc()
			log.Error("add torrent", "title", item.Title, "error", err)
			continue
		}
		led.Record(item.Title, item.SourceURL, p.now())
		res.Submitted++
		res.Added = append(res.Added, item)
		p.metrics.FeedItems.WithLabelValues("submitted").Inc()
		log.Info("added torrent", "title", item.Title, "category", category)
	}
}

func feedLabel(f model.Feed) string {
	if f.Name != "" {
		return f.Name
	}
	return f.URL
}
