// Package qbittorrent adapts the qBittorrent WebUI client to the domain types.
// Limit sentinels are converted here and nowhere else.
package qbittorrent

import (
	"context"
	"log/slog"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"qbt_manager/internal/model"
)

// API is the set of torrent client operations used by a run.
type API interface {
	ListTorrents(ctx context.Context) ([]model.Torrent, error)
	ListTrackers(ctx context.Context, hash string) ([]model.TrackerStatus, error)
	Pause(ctx context.Context, hashes []string) error
	Delete(ctx context.Context, hashes []string, deleteFiles bool) error
	SetUploadLimit(ctx context.Context, hashes []string, limit model.Limit[int64]) error
	SetShareLimits(ctx context.Context, hashes []string, ratio model.Limit[float64], seedingTime model.Limit[int64]) error
	AddTorrent(ctx context.Context, url, category string) error
}

// webAPI is the part of the go-qbittorrent client this package calls.
type webAPI interface {
	LoginCtx(ctx context.Context) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	GetTorrentTrackersCtx(ctx context.Context, hash string) ([]qbt.TorrentTracker, error)
	PauseCtx(ctx context.Context, hashes []string) error
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	SetTorrentUploadLimitCtx(ctx context.Context, hashes []string, limit int64) error
	SetTorrentShareLimitCtx(ctx context.Context, hashes []string, ratioLimit float64, seedingTimeLimit int64, inactiveSeedingTimeLimit int64) error
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
}

// Config holds the connection settings.
type Config struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	TLSSkipVerify bool
	Timeout       time.Duration
	LoginAttempts uint
	LoginDelay    time.Duration
}

// Client talks to one qBittorrent instance.
type Client struct {
	api webAPI
	log *slog.Logger
}

var _ API = (*Client)(nil)

// New connects to qBittorrent and logs in. Login is retried with backoff;
// the last error is returned when all attempts fail.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	qcfg := qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		TLSSkipVerify: cfg.TLSSkipVerify,
		Timeout:       int(cfg.Timeout.Seconds()),
	}
	if cfg.BasicUser != "" {
		qcfg.BasicUser = cfg.BasicUser
		qcfg.BasicPass = cfg.BasicPass
	}
	return connect(ctx, qbt.NewClient(qcfg), cfg, log)
}

func connect(ctx context.Context, api webAPI, cfg Config, log *slog.Logger) (*Client, error) {
	attempts := cfg.LoginAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.LoginDelay
	if delay == 0 {
		delay = 2 * time.Second
	}

	err := retry.Do(
		func() error { return api.LoginCtx(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("qbittorrent login failed, retrying", "attempt", n+1, "host", cfg.Host, "error", err)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "login to qbittorrent at %s", cfg.Host)
	}
	log.Info("logged in to qbittorrent", "host", cfg.Host)
	return &Client{api: api, log: log}, nil
}

// ListTorrents returns a snapshot of all torrents.
func (c *Client) ListTorrents(ctx context.Context) ([]model.Torrent, error) {
	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "list torrents")
	}
	out := make([]model.Torrent, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, toTorrent(t))
	}
	return out, nil
}

// ListTrackers returns the tracker entries of one torrent.
func (c *Client) ListTrackers(ctx context.Context, hash string) ([]model.TrackerStatus, error) {
	trackers, err := c.api.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "list trackers of %s", hash)
	}
	out := make([]model.TrackerStatus, 0, len(trackers))
	for _, tr := range trackers {
		out = append(out, toTrackerStatus(tr))
	}
	return out, nil
}

// Pause stops the given torrents.
func (c *Client) Pause(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	return errors.Wrapf(c.api.PauseCtx(ctx, hashes), "pause %d torrents", len(hashes))
}

// Delete removes the given torrents, with their data when deleteFiles is set.
func (c *Client) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	if len(hashes) == 0 {
		return nil
	}
	return errors.Wrapf(c.api.DeleteTorrentsCtx(ctx, hashes, deleteFiles), "delete %d torrents", len(hashes))
}

// SetUploadLimit sets the per-torrent upload limit in bytes per second.
func (c *Client) SetUploadLimit(ctx context.Context, hashes []string, limit model.Limit[int64]) error {
	return errors.Wrapf(c.api.SetTorrentUploadLimitCtx(ctx, hashes, uploadLimitValue(limit)),
		"set upload limit %s on %d torrents", limit, len(hashes))
}

// SetShareLimits sets ratio and seeding time together. The inactive seeding
// time limit is left at the global default.
func (c *Client) SetShareLimits(ctx context.Context, hashes []string, ratio model.Limit[float64], seedingTime model.Limit[int64]) error {
	return errors.Wrapf(
		c.api.SetTorrentShareLimitCtx(ctx, hashes, ratio.Sentinel(), seedingTime.Sentinel(), model.SentinelGlobalDefault),
		"set share limits ratio=%s seeding_time=%s on %d torrents", ratio, seedingTime, len(hashes))
}

// AddTorrent submits a torrent or magnet URL under category.
func (c *Client) AddTorrent(ctx context.Context, url, category string) error {
	opts := map[string]string{}
	if category != "" {
		opts["category"] = category
	}
	return errors.Wrap(c.api.AddTorrentFromUrlCtx(ctx, url, opts), "add torrent")
}

func toTorrent(t qbt.Torrent) model.Torrent {
	return model.Torrent{
		Hash:           t.Hash,
		Name:           t.Name,
		State:          model.TorrentState(t.State),
		Category:       t.Category,
		Tracker:        t.Tracker,
		MagnetURI:      t.MagnetURI,
		AddedOn:        time.Unix(t.AddedOn, 0),
		UploadLimit:    uploadLimitFromClient(t.UpLimit),
		MaxRatio:       model.LimitFromSentinel(t.RatioLimit),
		MaxSeedingTime: model.LimitFromSentinel(t.SeedingTimeLimit),
	}
}

func toTrackerStatus(tr qbt.TorrentTracker) model.TrackerStatus {
	return model.TrackerStatus{
		URL:     tr.Url,
		Status:  int(tr.Status),
		Message: tr.Message,
	}
}

// uploadLimitFromClient maps the reported upload limit; the client reports
// both 0 and -1 for "no limit".
func uploadLimitFromClient(v int64) model.Limit[int64] {
	if v <= 0 {
		return model.Unlimited[int64]()
	}
	return model.Custom(v)
}

// uploadLimitValue encodes an upload limit. Upload limits have no per-torrent
// "global default", so anything but a custom value clears the limit.
func uploadLimitValue(l model.Limit[int64]) int64 {
	if l.Kind == model.LimitCustom && l.Value > 0 {
		return l.Value
	}
	return model.SentinelUnlimited
}
