// Package cleanup runs the torrent housekeeping phase: it classifies every
// torrent in the client, brings limits in line with the retention rules and
// removes what is no longer wanted.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"qbt_manager/internal/metrics"
	"qbt_manager/internal/model"
	"qbt_manager/internal/notify"
	"qbt_manager/internal/policy"
)

// Client is the part of the torrent client the cleanup phase needs.
type Client interface {
	ListTorrents(ctx context.Context) ([]model.Torrent, error)
	ListTrackers(ctx context.Context, hash string) ([]model.TrackerStatus, error)
	Pause(ctx context.Context, hashes []string) error
	Delete(ctx context.Context, hashes []string, deleteFiles bool) error
	SetUploadLimit(ctx context.Context, hashes []string, limit model.Limit[int64]) error
	SetShareLimits(ctx context.Context, hashes []string, ratio model.Limit[float64], seedingTime model.Limit[int64]) error
}

// Report summarises one cleanup run.
type Report struct {
	Torrents     int
	Ignored      int
	Kept         int
	Removed      []notify.Removal
	LimitUpdates int
	Errors       int
}

// Service runs the cleanup phase.
type Service struct {
	client   Client
	policy   policy.Policy
	ignorer  *policy.Ignorer
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Service. ignorer and notifier may be nil.
func New(
	client Client,
	p policy.Policy,
	ignorer *policy.Ignorer,
	notifier notify.Notifier,
	m *metrics.Metrics,
	log *slog.Logger,
) *Service {
	return &Service{
		client:   client,
		policy:   p,
		ignorer:  ignorer,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

type decision struct {
	torrent model.Torrent
	class   model.Classification
}

// Run performs one cleanup pass. It returns an error only when the torrent
// list cannot be read; every other failure is logged, counted and skipped.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var rep Report
	now := s.now()

	torrents, err := s.client.ListTorrents(ctx)
	if err != nil {
		s.metrics.ActionErrors.WithLabelValues("list").Inc()
		return rep, fmt.Errorf("cleanup: %w", err)
	}
	sort.SliceStable(torrents, func(i, j int) bool {
		return strings.ToLower(torrents[i].Name) < strings.ToLower(torrents[j].Name)
	})
	rep.Torrents = len(torrents)

	var (
		kept     []policy.Kept
		removals []decision
	)
	tally := map[string]int{}

	for _, t := range torrents {
		if ctx.Err() != nil {
			return rep, fmt.Errorf("cleanup interrupted: %w", ctx.Err())
		}

		rule, matched := policy.Match(t, s.policy.Rules)
		if policy.NeedsTrackerStatus(t, rule, matched) {
			trackers, err := s.client.ListTrackers(ctx, t.Hash)
			if err != nil {
				rep.Errors++
				s.metrics.ActionErrors.WithLabelValues("trackers").Inc()
				s.log.Warn("read tracker status", "name", t.Name, "hash", t.Hash, "error", err)
			}
			t.Trackers = trackers
		}

		ignored, err := s.ignorer.Ignored(t, now)
		if err != nil {
			rep.Errors++
			s.log.Error("evaluate ignore expressions, skipping torrent", "name", t.Name, "error", err)
			ignored = true
		}
		if ignored {
			rep.Ignored++
			tally["ignored"]++
			s.log.Debug("Ignore", "name", t.Name, "state", t.State)
			continue
		}

		c := policy.Classify(t, rule, matched, s.policy, now)
		tally[strings.ToLower(c.Action.String())]++
		s.logDecision(t, rule, matched, c, now)

		if c.Removes() {
			removals = append(removals, decision{torrent: t, class: c})
			continue
		}
		rep.Kept++
		if matched {
			kept = append(kept, policy.Kept{Torrent: t, Rule: rule})
		}
	}

	s.metrics.Torrents.Reset()
	for action, n := range tally {
		s.metrics.Torrents.WithLabelValues(action).Set(float64(n))
	}

	s.applyLimits(ctx, policy.Reconcile(kept), &rep)
	rep.Removed = s.remove(ctx, removals, &rep)
	s.notify(ctx, rep.Removed, now)

	s.log.Info("cleanup finished",
		"torrents", rep.Torrents,
		"kept", rep.Kept,
		"ignored", rep.Ignored,
		"removed", len(rep.Removed),
		"limit_updates", rep.LimitUpdates,
		"errors", rep.Errors,
	)
	return rep, nil
}

func (s *Service) logDecision(t model.Torrent, rule model.RetentionRule, matched bool, c model.Classification, now time.Time) {
	attrs := []any{
		"name", t.Name,
		"state", t.State,
		"age_days", int(t.Age(now).Hours() / 24),
	}
	if matched {
		attrs = append(attrs, "rule", rule.TrackerMatch)
	}
	if c.Reason != model.ReasonNone {
		attrs = append(attrs, "reason", string(c.Reason))
	}
	if c.Action == model.ActionKeep {
		s.log.Debug(c.Action.String(), attrs...)
		return
	}
	s.log.Info(c.Action.String(), attrs...)
}

// applyLimits sends one call per group of the plan.
func (s *Service) applyLimits(ctx context.Context, plan policy.LimitPlan, rep *Report) {
	for _, g := range plan.UploadLimits {
		if err := s.client.SetUploadLimit(ctx, g.Hashes, g.Limit); err != nil {
			rep.Errors++
			s.metrics.ActionErrors.WithLabelValues("upload_limit").Inc()
			s.log.Error("set upload limit", "limit", g.Limit.String(), "torrents", len(g.Hashes), "error", err)
			continue
		}
		rep.LimitUpdates += len(g.Hashes)
		s.metrics.LimitUpdates.WithLabelValues("upload").Add(float64(len(g.Hashes)))
		s.log.Info("updated upload limit", "limit", g.Limit.String(), "torrents", len(g.Hashes))
	}

	for _, g := range plan.ShareLimits {
		if err := s.client.SetShareLimits(ctx, g.Hashes, g.Ratio, g.SeedingTime); err != nil {
			rep.Errors++
			s.metrics.ActionErrors.WithLabelValues("share_limits").Inc()
			s.log.Error("set share limits",
				"ratio", g.Ratio.String(), "seeding_time", g.SeedingTime.String(),
				"torrents", len(g.Hashes), "error", err)
			continue
		}
		rep.LimitUpdates += len(g.Hashes)
		s.metrics.LimitUpdates.WithLabelValues("share").Add(float64(len(g.Hashes)))
		s.log.Info("updated share limits",
			"ratio", g.Ratio.String(), "seeding_time", g.SeedingTime.String(), "torrents", len(g.Hashes))
	}
}

// remove pauses and deletes in batches and returns the removals that the
// client accepted.
func (s *Service) remove(ctx context.Context, removals []decision, rep *Report) []notify.Removal {
	var done []decision

	pauses := lo.Filter(removals, func(d decision, _ int) bool { return d.class.Action == model.ActionPause })
	if len(pauses) > 0 {
		if err := s.client.Pause(ctx, hashes(pauses)); err != nil {
			rep.Errors++
			s.metrics.ActionErrors.WithLabelValues("pause").Inc()
			s.log.Error("pause torrents", "torrents", len(pauses), "error", err)
		} else {
			done = append(done, pauses...)
		}
	}

	deletes := lo.GroupBy(
		lo.Filter(removals, func(d decision, _ int) bool { return d.class.Action == model.ActionDelete }),
		func(d decision) bool { return d.class.DeleteFiles },
	)
	for _, withFiles := range []bool{false, true} {
		batch := deletes[withFiles]
		if len(batch) == 0 {
			continue
		}
		if err := s.client.Delete(ctx, hashes(batch), withFiles); err != nil {
			rep.Errors++
			s.metrics.ActionErrors.WithLabelValues("delete").Inc()
			s.log.Error("delete torrents", "torrents", len(batch), "delete_files", withFiles, "error", err)
			continue
		}
		done = append(done, batch...)
	}

	return lo.Map(done, func(d decision, _ int) notify.Removal {
		s.metrics.Actions.WithLabelValues(strings.ToLower(d.class.Action.String()), string(d.class.Reason)).Inc()
		return notify.Removal{
			Name:    d.torrent.Name,
			State:   d.torrent.State,
			Tracker: d.torrent.Tracker,
			Action:  d.class.Action,
			Reason:  d.class.Reason,
			AddedOn: d.torrent.AddedOn,
		}
	})
}

func (s *Service) notify(ctx context.Context, removed []notify.Removal, now time.Time) {
	if s.notifier == nil || len(removed) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, notify.CleanupMessage(removed, now)); err != nil {
		s.metrics.Notifications.WithLabelValues("error").Inc()
		s.log.Error("send cleanup notification", "error", err)
		return
	}
	s.metrics.Notifications.WithLabelValues("sent").Inc()
}

func hashes(ds []decision) []string {
	return lo.Map(ds, func(d decision, _ int) string { return d.torrent.Hash })
}
