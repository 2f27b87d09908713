package qbittorrent

import (
	"context"
	"log/slog"

	"qbt_manager/internal/model"
)

// DryRun wraps an API so that reads go through and writes are only logged.
type DryRun struct {
	API
	log *slog.Logger
}

// NewDryRun returns a read-only view of next.
func NewDryRun(next API, log *slog.Logger) *DryRun {
	return &DryRun{API: next, log: log.With("dry_run", true)}
}

// Pause logs the torrents that would be paused.
func (d *DryRun) Pause(_ context.Context, hashes []string) error {
	d.log.Info("would pause torrents", "hashes", hashes)
	return nil
}

// Delete logs the torrents that would be deleted.
func (d *DryRun) Delete(_ context.Context, hashes []string, deleteFiles bool) error {
	d.log.Info("would delete torrents", "hashes", hashes, "delete_files", deleteFiles)
	return nil
}

// SetUploadLimit logs the upload limit change.
func (d *DryRun) SetUploadLimit(_ context.Context, hashes []string, limit model.Limit[int64]) error {
	d.log.Info("would set upload limit", "limit", limit.String(), "hashes", hashes)
	return nil
}

// SetShareLimits logs the share limit change.
func (d *DryRun) SetShareLimits(_ context.Context, hashes []string, ratio model.Limit[float64], seedingTime model.Limit[int64]) error {
	d.log.Info("would set share limits", "ratio", ratio.String(), "seeding_time", seedingTime.String(), "hashes", hashes)
	return nil
}

// AddTorrent logs the submission.
func (d *DryRun) AddTorrent(_ context.Context, url, category string) error {
	d.log.Info("would add torrent", "url", url, "category", category)
	return nil
}
