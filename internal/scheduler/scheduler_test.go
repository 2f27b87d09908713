package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewRejectsInvalidSchedule(t *testing.T) {
	for _, spec := range []string{"every hour", "* * *", "@every banana"} {
		if _, err := New(spec, func(context.Context) error { return nil }, discard); err == nil {
			t.Errorf("New(%q) error = nil, want error", spec)
		}
	}
}

func TestNewAcceptsSchedules(t *testing.T) {
	for _, spec := range []string{"", "@hourly", "@every 30m", "*/15 * * * *", "0 4 * * 1-5"} {
		if _, err := New(spec, func(context.Context) error { return nil }, discard); err != nil {
			t.Errorf("New(%q) error = %v", spec, err)
		}
	}
}

func TestRunStartsWithImmediateRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	s, err := New("@hourly", func(context.Context) error {
		calls.Add(1)
		cancel()
		return nil
	}, discard)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRunRepeatsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		if calls.Add(1) >= 2 {
			cancel()
		}
		return nil
	}, discard)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("scheduled run did not happen")
	}
	if got := calls.Load(); got < 2 {
		t.Errorf("calls = %d, want at least 2", got)
	}
}

func TestRunLogsJobErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New("@hourly", func(context.Context) error {
		cancel()
		return errors.New("qbittorrent unreachable")
	}, log)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Run(ctx)

	if !strings.Contains(buf.String(), "qbittorrent unreachable") {
		t.Errorf("log = %q, want the job error", buf.String())
	}
}

func TestCronLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{log: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	l.Info("wake", "now", "x")
	if buf.Len() != 0 {
		t.Errorf("info line logged above debug: %q", buf.String())
	}
	l.Error(errors.New("panic"), "job failed", "job", "run")
	out := buf.String()
	for _, want := range []string{"level=ERROR", "cron: job failed", "error=panic", "job=run"} {
		if !strings.Contains(out, want) {
			t.Errorf("log = %q, want %q", out, want)
		}
	}
}
