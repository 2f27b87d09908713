// Package app ties the cleanup and intake phases into a single run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qbt_manager/internal/cleanup"
	"qbt_manager/internal/intake"
	"qbt_manager/internal/metrics"
	"qbt_manager/internal/model"
)

// ErrBusy is returned when a run is requested while another one is active.
var ErrBusy = errors.New("a run is already in progress")

// CleanupPhase is the torrent housekeeping phase.
type CleanupPhase interface {
	Run(ctx context.Context) (cleanup.Report, error)
}

// IntakePhase is the feed intake phase.
type IntakePhase interface {
	Run(ctx context.Context, feeds []model.Feed) (intake.Result, error)
}

// Summary describes one finished run.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Cleanup    cleanup.Report
	CleanupErr error
	Intake     intake.Result
	IntakeErr  error
}

// Err joins the errors of both phases.
func (s Summary) Err() error {
	return errors.Join(s.CleanupErr, s.IntakeErr)
}

// Duration is how long the run took.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Options configure a Runner.
type Options struct {
	Feeds       []model.Feed
	MetricsFile string
	DryRun      bool
}

// Runner executes runs one at a time.
type Runner struct {
	mu sync.Mutex

	cleanup CleanupPhase
	intake  IntakePhase
	metrics *metrics.Metrics
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	lastMu sync.Mutex
	last   *Summary
}

// NewRunner creates a Runner.
func NewRunner(c CleanupPhase, in IntakePhase, m *metrics.Metrics, opts Options, log *slog.Logger) *Runner {
	return &Runner{
		cleanup: c,
		intake:  in,
		metrics: m,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// Run performs cleanup and then intake. A failing phase is logged and does
// not stop the other one; its error is kept in the summary. The returned
// error is ErrBusy when another run holds the runner.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.mu.TryLock() {
		return Summary{}, ErrBusy
	}
	defer r.mu.Unlock()

	sum := Summary{StartedAt: r.now(), DryRun: r.opts.DryRun}
	r.log.Info("run started", "dry_run", r.opts.DryRun)

	start := r.now()
	sum.Cleanup, sum.CleanupErr = r.cleanup.Run(ctx)
	r.metrics.ObservePhase("cleanup", r.now().Sub(start))
	if sum.CleanupErr != nil {
		r.log.Error("cleanup skipped", "error", sum.CleanupErr)
	}

	if len(r.opts.Feeds) > 0 {
		start = r.now()
		sum.Intake, sum.IntakeErr = r.intake.Run(ctx, r.opts.Feeds)
		r.metrics.ObservePhase("intake", r.now().Sub(start))
		if sum.IntakeErr != nil {
			r.log.Error("intake failed", "error", sum.IntakeErr)
		}
	} else {
		r.log.Info("no RSS feeds to process")
	}

	sum.FinishedAt = r.now()
	r.metrics.ObservePhase("total", sum.Duration())
	r.metrics.LastRun.Set(float64(sum.FinishedAt.Unix()))
	if r.opts.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(r.opts.MetricsFile); err != nil {
			r.log.Error("write metrics", "path", r.opts.MetricsFile, "error", err)
		}
	}

	r.lastMu.Lock()
	r.last = &sum
	r.lastMu.Unlock()

	r.log.Info("run finished",
		"duration", sum.Duration().Round(time.Millisecond),
		"removed", len(sum.Cleanup.Removed),
		"added", sum.Intake.Submitted,
	)
	return sum, nil
}

// Job adapts Run to the scheduler.
func (r *Runner) Job(ctx context.Context) error {
	sum, err := r.Run(ctx)
	if err != nil {
		return err
	}
	if err := sum.Err(); err != nil {
		return fmt.Errorf("run finished with errors: %w", err)
	}
	return nil
}

// Last returns the summary of the most recent run.
func (r *Runner) Last() (Summary, bool) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}
