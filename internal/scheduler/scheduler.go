// Package scheduler triggers runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs once an hour.
const DefaultSchedule = "@hourly"

// Job is one run. Errors are logged by the scheduler.
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then on every tick of its schedule.
// A tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	schedule cron.Schedule
	spec     string
	job      Job
	log      *slog.Logger
}

// New parses spec, which is a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func New(spec string, job Job, log *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return &Scheduler{schedule: schedule, spec: spec, job: job, log: log}, nil
}

// Parse validates a schedule expression.
func Parse(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Run blocks until ctx is cancelled and the running job, if any, returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.runJob(ctx)

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runJob(ctx) }))
	c.Start()
	s.log.Info("scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job(ctx); err != nil {
		s.log.Error("scheduled run failed", "error", err)
	}
}

// cronLogger sends the cron library's log lines to slog. Info lines from
// cron are chatty and go to debug.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
