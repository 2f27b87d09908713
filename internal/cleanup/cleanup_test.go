package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"qbt_manager/internal/metrics"
	"qbt_manager/internal/model"
	"qbt_manager/internal/notify"
	"qbt_manager/internal/policy"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return testNow.Add(-time.Duration(n) * 24 * time.Hour)
}

type uploadCall struct {
	Hashes []string
	Limit  model.Limit[int64]
}

type shareCall struct {
	Hashes      []string
	Ratio       model.Limit[float64]
	SeedingTime model.Limit[int64]
}

type deleteCall struct {
	Hashes      []string
	DeleteFiles bool
}

type fakeClient struct {
	torrents []model.Torrent
	trackers map[string][]model.TrackerStatus
	listErr  error
	pauseErr error
	shareErr error

	trackerCalls []string
	paused       [][]string
	deleted      []deleteCall
	uploads      []uploadCall
	shares       []shareCall
}

func (f *fakeClient) ListTorrents(_ context.Context) ([]model.Torrent, error) {
	return f.torrents, f.listErr
}

func (f *fakeClient) ListTrackers(_ context.Context, hash string) ([]model.TrackerStatus, error) {
	f.trackerCalls = append(f.trackerCalls, hash)
	return f.trackers[hash], nil
}

func (f *fakeClient) Pause(_ context.Context, hashes []string) error {
	f.paused = append(f.paused, hashes)
	return f.pauseErr
}

func (f *fakeClient) Delete(_ context.Context, hashes []string, deleteFiles bool) error {
	f.deleted = append(f.deleted, deleteCall{Hashes: hashes, DeleteFiles: deleteFiles})
	return nil
}

func (f *fakeClient) SetUploadLimit(_ context.Context, hashes []string, limit model.Limit[int64]) error {
	f.uploads = append(f.uploads, uploadCall{Hashes: hashes, Limit: limit})
	return nil
}

func (f *fakeClient) SetShareLimits(_ context.Context, hashes []string, ratio model.Limit[float64], seedingTime model.Limit[int64]) error {
	f.shares = append(f.shares, shareCall{Hashes: hashes, Ratio: ratio, SeedingTime: seedingTime})
	return f.shareErr
}

type fakeNotifier struct {
	messages []notify.Message
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	f.messages = append(f.messages, msg)
	return f.err
}

func seeding(hash, name string, added time.Time) model.Torrent {
	return model.Torrent{
		Hash:           hash,
		Name:           name,
		State:          model.StateStalledUP,
		Tracker:        "https://tracker.example.org/announce/abc",
		AddedOn:        added,
		UploadLimit:    model.Unlimited[int64](),
		MaxRatio:       model.GlobalDefault[float64](),
		MaxSeedingTime: model.GlobalDefault[int64](),
	}
}

func newService(client Client, p policy.Policy, ig *policy.Ignorer, n notify.Notifier) (*Service, *metrics.Metrics) {
	m := metrics.New()
	s := New(client, p, ig, n, m, discard)
	s.now = func() time.Time { return testNow }
	return s, m
}

func TestRunExpiresOldTorrents(t *testing.T) {
	old := seeding("h1", "Old Show", daysAgo(40))
	young := seeding("h2", "Young Show", daysAgo(10))
	leeching := seeding("h3", "Still Downloading", daysAgo(90))
	leeching.State = "downloading"

	client := &fakeClient{torrents: []model.Torrent{young, leeching, old}}
	n := &fakeNotifier{}
	p := policy.Policy{Rules: []model.RetentionRule{{TrackerMatch: "tracker.example.org", MaxDaysToKeep: 30}}}
	s, m := newService(client, p, nil, n)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([][]string{{"h1"}}, client.paused); diff != "" {
		t.Errorf("paused mismatch (-want +got):\n%s", diff)
	}
	if len(client.deleted) != 0 {
		t.Errorf("deleted = %v, want none", client.deleted)
	}
	wantRemoved := []notify.Removal{{
		Name:    "Old Show",
		State:   model.StateStalledUP,
		Tracker: old.Tracker,
		Action:  model.ActionPause,
		Reason:  model.ReasonExpired,
		AddedOn: old.AddedOn,
	}}
	if diff := cmp.Diff(wantRemoved, rep.Removed); diff != "" {
		t.Errorf("Removed mismatch (-want +got):\n%s", diff)
	}
	if rep.Torrents != 3 || rep.Kept != 2 {
		t.Errorf("Torrents, Kept = %d, %d, want 3, 2", rep.Torrents, rep.Kept)
	}

	if len(n.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.messages))
	}
	if n.messages[0].Subject != notify.CleanupSubject {
		t.Errorf("Subject = %q", n.messages[0].Subject)
	}
	if !strings.Contains(n.messages[0].Body, " - Old Show: stalledUP (Tracker: example.org)") {
		t.Errorf("Body = %q, want line for Old Show", n.messages[0].Body)
	}
	if strings.Contains(n.messages[0].Body, "Young Show") {
		t.Errorf("Body lists a kept torrent: %q", n.messages[0].Body)
	}

	if got := testutil.ToFloat64(m.Actions.WithLabelValues("pause", string(model.ReasonExpired))); got != 1 {
		t.Errorf("pause actions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Torrents.WithLabelValues("keep")); got != 2 {
		t.Errorf("kept gauge = %v, want 2", got)
	}
}

func TestRunDeleteModeWithFiles(t *testing.T) {
	stray := seeding("h1", "Stray", daysAgo(1))
	stray.Tracker = "https://other.example.net/announce"
	expired := seeding("h2", "Expired", daysAgo(45))

	client := &fakeClient{torrents: []model.Torrent{stray, expired}}
	p := policy.Policy{
		Rules:       []model.RetentionRule{{TrackerMatch: "tracker.example.org", MaxDaysToKeep: 30}},
		Mode:        model.RemoveDelete,
		DeleteFiles: true,
	}
	s, _ := newService(client, p, nil, nil)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []deleteCall{{Hashes: []string{"h2", "h1"}, DeleteFiles: true}}
	if diff := cmp.Diff(want, client.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	gotReasons := map[string]model.Reason{}
	for _, r := range rep.Removed {
		gotReasons[r.Name] = r.Reason
	}
	wantReasons := map[string]model.Reason{"Stray": model.ReasonWrongTracker, "Expired": model.ReasonExpired}
	if diff := cmp.Diff(wantReasons, gotReasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
	if len(client.paused) != 0 {
		t.Errorf("paused = %v, want none", client.paused)
	}
}

func TestRunAlreadyPausedIsKept(t *testing.T) {
	paused := seeding("h1", "Paused", daysAgo(60))
	paused.State = model.StateStoppedUP

	client := &fakeClient{torrents: []model.Torrent{paused}}
	p := policy.Policy{Rules: []model.RetentionRule{{TrackerMatch: "*", MaxDaysToKeep: 30}}}
	s, _ := newService(client, p, nil, &fakeNotifier{})

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(client.paused) != 0 || len(rep.Removed) != 0 {
		t.Errorf("already paused torrent was removed: paused=%v removed=%v", client.paused, rep.Removed)
	}
}

func TestRunBatchesLimitUpdates(t *testing.T) {
	a := seeding("a", "A", daysAgo(1))
	b := seeding("b", "B", daysAgo(1))
	c := seeding("c", "C", daysAgo(1))
	c.Tracker = "https://slow.example.net/announce"
	done := seeding("d", "D", daysAgo(1))
	done.UploadLimit = model.Custom[int64](1024)

	client := &fakeClient{torrents: []model.Torrent{c, b, a, done}}
	p := policy.Policy{Rules: []model.RetentionRule{
		{TrackerMatch: "tracker.example.org", MaxDaysToKeep: model.KeepForever, UploadLimit: model.Custom[int64](1024).Ptr()},
		{TrackerMatch: "slow.example.net", MaxDaysToKeep: model.KeepForever, UploadLimit: model.Custom[int64](2048).Ptr()},
	}}
	s, m := newService(client, p, nil, nil)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []uploadCall{
		{Hashes: []string{"a", "b"}, Limit: model.Custom[int64](1024)},
		{Hashes: []string{"c"}, Limit: model.Custom[int64](2048)},
	}
	if diff := cmp.Diff(want, client.uploads); diff != "" {
		t.Errorf("upload calls mismatch (-want +got):\n%s", diff)
	}
	if rep.LimitUpdates != 3 {
		t.Errorf("LimitUpdates = %d, want 3", rep.LimitUpdates)
	}
	if got := testutil.ToFloat64(m.LimitUpdates.WithLabelValues("upload")); got != 3 {
		t.Errorf("upload limit metric = %v, want 3", got)
	}
}

func TestRunPartialShareLimitKeepsSeedingTime(t *testing.T) {
	tor := seeding("a", "A", daysAgo(1))
	tor.MaxSeedingTime = model.Custom[int64](600)

	client := &fakeClient{torrents: []model.Torrent{tor}}
	p := policy.Policy{Rules: []model.RetentionRule{
		{TrackerMatch: "*", MaxDaysToKeep: model.KeepForever, MaxRatio: model.Custom(2.0).Ptr()},
	}}
	s, _ := newService(client, p, nil, nil)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []shareCall{{Hashes: []string{"a"}, Ratio: model.Custom(2.0), SeedingTime: model.Custom[int64](600)}}
	if diff := cmp.Diff(want, client.shares); diff != "" {
		t.Errorf("share calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunLimitFailureDoesNotStopRun(t *testing.T) {
	keep := seeding("a", "A", daysAgo(1))
	old := seeding("b", "B", daysAgo(100))

	client := &fakeClient{torrents: []model.Torrent{keep, old}, shareErr: errors.New("timeout")}
	p := policy.Policy{Rules: []model.RetentionRule{
		{TrackerMatch: "*", MaxDaysToKeep: 30, MaxRatio: model.Custom(1.0).Ptr(), UploadLimit: model.Custom[int64](512).Ptr()},
	}}
	s, m := newService(client, p, nil, nil)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(client.uploads) != 1 {
		t.Errorf("upload calls = %d, want 1", len(client.uploads))
	}
	if diff := cmp.Diff([][]string{{"b"}}, client.paused); diff != "" {
		t.Errorf("paused mismatch (-want +got):\n%s", diff)
	}
	if rep.Errors != 1 {
		t.Errorf("Errors = %d, want 1", rep.Errors)
	}
	if got := testutil.ToFloat64(m.ActionErrors.WithLabelValues("share_limits")); got != 1 {
		t.Errorf("share error metric = %v, want 1", got)
	}
}

func TestRunPauseFailureSkipsNotification(t *testing.T) {
	client := &fakeClient{
		torrents: []model.Torrent{seeding("a", "A", daysAgo(100))},
		pauseErr: errors.New("forbidden"),
	}
	n := &fakeNotifier{}
	p := policy.Policy{Rules: []model.RetentionRule{{TrackerMatch: "*", MaxDaysToKeep: 30}}}
	s, _ := newService(client, p, nil, n)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rep.Removed) != 0 || len(n.messages) != 0 {
		t.Errorf("failed pause reported: removed=%v messages=%d", rep.Removed, len(n.messages))
	}
	if rep.Errors != 1 {
		t.Errorf("Errors = %d, want 1", rep.Errors)
	}
}

func TestRunTrackerMessageRemoves(t *testing.T) {
	young := seeding("a", "A", daysAgo(1))
	other := seeding("b", "B", daysAgo(1))
	other.State = "downloading"

	client := &fakeClient{
		torrents: []model.Torrent{young, other},
		trackers: map[string][]model.TrackerStatus{
			"a": {{URL: young.Tracker, Message: " Unregistered Torrent "}},
		},
	}
	p := policy.Policy{Rules: []model.RetentionRule{{
		TrackerMatch:   "tracker.example.org",
		MaxDaysToKeep:  30,
		DeleteMessages: []string{"unregistered torrent"},
	}}}
	s, _ := newService(client, p, nil, nil)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, client.trackerCalls); diff != "" {
		t.Errorf("tracker lookups mismatch (-want +got):\n%s", diff)
	}
	if len(rep.Removed) != 1 || rep.Removed[0].Reason != model.ReasonTrackerMessage {
		t.Errorf("Removed = %+v, want one tracker message removal", rep.Removed)
	}
}

func TestRunIgnoredTorrentsAreUntouched(t *testing.T) {
	keepMe := seeding("a", "Keep Me", daysAgo(100))
	keepMe.Category = "archive"
	drop := seeding("b", "Drop", daysAgo(100))

	ig, err := policy.CompileIgnores([]string{`Category == "archive"`})
	if err != nil {
		t.Fatalf("CompileIgnores() error = %v", err)
	}
	client := &fakeClient{torrents: []model.Torrent{keepMe, drop}}
	p := policy.Policy{Rules: []model.RetentionRule{
		{TrackerMatch: "*", MaxDaysToKeep: 30, UploadLimit: model.Custom[int64](100).Ptr()},
	}}
	s, _ := newService(client, p, ig, nil)

	rep, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([][]string{{"b"}}, client.paused); diff != "" {
		t.Errorf("paused mismatch (-want +got):\n%s", diff)
	}
	if len(client.uploads) != 0 {
		t.Errorf("ignored torrent got a limit update: %v", client.uploads)
	}
	if rep.Ignored != 1 {
		t.Errorf("Ignored = %d, want 1", rep.Ignored)
	}
}

func TestRunListError(t *testing.T) {
	boom := errors.New("connection refused")
	client := &fakeClient{listErr: boom}
	s, _ := newService(client, policy.Policy{}, nil, nil)

	if _, err := s.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
}

func TestRunNotificationFailureIsNotFatal(t *testing.T) {
	client := &fakeClient{torrents: []model.Torrent{seeding("a", "A", daysAgo(100))}}
	n := &fakeNotifier{err: errors.New("smtp down")}
	p := policy.Policy{Rules: []model.RetentionRule{{TrackerMatch: "*", MaxDaysToKeep: 30}}}
	s, m := newService(client, p, nil, n)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("error")); got != 1 {
		t.Errorf("notification errors = %v, want 1", got)
	}
}
