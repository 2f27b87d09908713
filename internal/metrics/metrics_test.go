package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Actions.WithLabelValues("Delete", "too old").Inc()
	m.Actions.WithLabelValues("Delete", "too old").Inc()
	m.FeedItems.WithLabelValues("submitted").Add(3)

	if got := testutil.ToFloat64(m.Actions.WithLabelValues("Delete", "too old")); got != 2 {
		t.Errorf("actions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FeedItems.WithLabelValues("submitted")); got != 3 {
		t.Errorf("feed items = %v, want 3", got)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.LimitUpdates.WithLabelValues("upload").Inc()
	if got := testutil.ToFloat64(b.LimitUpdates.WithLabelValues("upload")); got != 0 {
		t.Errorf("second instance = %v, want 0", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObservePhase("cleanup", 1500*time.Millisecond)
	m.LastRun.Set(1700000000)

	path := filepath.Join(t.TempDir(), "qbt_manager.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"qbt_manager_last_run_timestamp_seconds 1.7e+09",
		`qbt_manager_phase_duration_seconds_count{phase="cleanup"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTextfileBadPath(t *testing.T) {
	m := New()
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom")); err == nil {
		t.Error("expected error for missing directory")
	}
}
