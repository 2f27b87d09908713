// Package fetcher downloads and parses RSS feeds into feed items.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmcdole/gofeed"

	"qbt_manager/internal/model"
)

const (
	userAgent    = "qbt-manager/1.0"
	maxFeedBytes = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an HTTP client that retries transient failures with
// backoff and logs retries through log.
func NewHTTPClient(timeout time.Duration, retries int, log *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = log.With("component", "http")
	return rc.StandardClient()
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client HTTPClient
	parser *gofeed.Parser
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client: client,
		parser: gofeed.NewParser(),
	}
}

// Fetch downloads the feed at url and returns its items in feed order.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]model.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]model.FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		items = append(items, toFeedItem(it))
	}
	return items, nil
}

func toFeedItem(it *gofeed.Item) model.FeedItem {
	return model.FeedItem{
		Title:       strings.TrimSpace(it.Title),
		Description: it.Description,
		SourceURL:   SourceURL(it),
		Published:   it.PublishedParsed,
	}
}

// SourceURL picks the URL to submit for an item: the first enclosure, else
// the item link, else the first of the item's links. It returns "" when the
// item carries none of them.
func SourceURL(it *gofeed.Item) string {
	for _, enc := range it.Enclosures {
		if enc != nil && strings.TrimSpace(enc.URL) != "" {
			return strings.TrimSpace(enc.URL)
		}
	}
	if link := strings.TrimSpace(it.Link); link != "" {
		return link
	}
	for _, link := range it.Links {
		if link = strings.TrimSpace(link); link != "" {
			return link
		}
	}
	return ""
}
