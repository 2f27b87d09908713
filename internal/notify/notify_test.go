package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/go-mail/mail"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"qbt_manager/internal/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	msgs []Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestMultiSendsToAll(t *testing.T) {
	failing := &recorder{err: errors.New("smtp down")}
	ok := &recorder{}
	m := NewMulti(discard, failing, nil, ok)

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	err := m.Notify(context.Background(), Message{Subject: "s", Body: "b"})
	if !errors.Is(err, failing.err) {
		t.Errorf("error = %v, want wrapped %v", err, failing.err)
	}
	if len(ok.msgs) != 1 {
		t.Errorf("healthy notifier got %d messages, want 1", len(ok.msgs))
	}
}

func TestCleanupMessage(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	removed := []Removal{
		{
			Name:    "zeta.iso",
			State:   model.StateUploading,
			Tracker: "https://tracker.example.org/abcdef123456/announce",
			Action:  model.ActionDelete,
			Reason:  model.ReasonExpired,
			AddedOn: now.Add(-21 * 24 * time.Hour),
		},
		{
			Name:    "Alpha.iso",
			State:   model.StateStalledUP,
			Tracker: "",
			Action:  model.ActionPause,
			Reason:  model.ReasonWrongTracker,
		},
	}

	got := CleanupMessage(removed, now)
	want := Message{
		Subject: "[Download Station] Download Cleanup",
		Body: "Cleaned up the following downloads:\n" +
			" - Alpha.iso: stalledUP (Tracker: none) [Pause, wrong tracker]\n" +
			" - zeta.iso: uploading (Tracker: example.org) [Delete, too old, added 3 weeks ago]\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CleanupMessage() mismatch (-want +got):\n%s", diff)
	}
}

func TestAddedMessage(t *testing.T) {
	got := AddedMessage([]model.FeedItem{{Title: "One"}, {Title: "Two"}})
	want := Message{
		Subject: AddedSubject,
		Body:    "Added 2 new downloads:\n - One\n - Two\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AddedMessage() mismatch (-want +got):\n%s", diff)
	}
	if got := AddedMessage([]model.FeedItem{{Title: "Solo"}}).Body; !strings.HasPrefix(got, "Added 1 new download:") {
		t.Errorf("singular body = %q", got)
	}
}

func TestTrackerHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "none"},
		{in: "https://tracker.example.org:443/passkey/announce", want: "example.org"},
		{in: "udp://open.tracker.co.uk:1337/announce", want: "tracker.co.uk"},
		{in: "http://localhost:8080/announce", want: "localhost"},
		{in: "::not a url", want: "unknown"},
	}
	for _, tt := range tests {
		if got := TrackerHost(tt.in); got != tt.want {
			t.Errorf("TrackerHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeMailer struct {
	sent []*mail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*mail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestEmailNotify(t *testing.T) {
	fm := &fakeMailer{}
	e := NewEmail(EmailConfig{
		Host:   "smtp.example.org",
		Port:   587,
		From:   "bot@example.org",
		To:     "me@example.org",
		ToName: "Me",
	})
	e.sender = fm

	if err := e.Notify(context.Background(), Message{Subject: CleanupSubject, Body: "hello"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(fm.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fm.sent))
	}
	m := fm.sent[0]
	if diff := cmp.Diff([]string{CleanupSubject}, m.GetHeader("Subject")); diff != "" {
		t.Errorf("subject mismatch (-want +got):\n%s", diff)
	}
	if from := m.GetHeader("From"); len(from) != 1 || !strings.Contains(from[0], SenderName) {
		t.Errorf("From = %v, want sender name %q", from, SenderName)
	}
	if to := m.GetHeader("To"); len(to) != 1 || !strings.Contains(to[0], "me@example.org") {
		t.Errorf("To = %v", to)
	}
}

func TestEmailNotifyError(t *testing.T) {
	fm := &fakeMailer{err: errors.New("auth failed")}
	e := NewEmail(EmailConfig{To: "me@example.org"})
	e.sender = fm

	err := e.Notify(context.Background(), Message{Subject: "s"})
	if !errors.Is(err, fm.err) {
		t.Errorf("error = %v, want wrapped %v", err, fm.err)
	}
}

type fakeTelegram struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotify(t *testing.T) {
	api := &fakeTelegram{}
	n := NewTelegram(api, 42)
	if err := n.Notify(context.Background(), Message{Subject: "Subj", Body: "Body"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	if diff := cmp.Diff(int64(42), api.sent[0].ChatID); diff != "" {
		t.Errorf("chat mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Subj\n\nBody", api.sent[0].Text); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}
}

func TestTelegramCancelledContext(t *testing.T) {
	api := &fakeTelegram{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewTelegram(api, 1).Notify(ctx, Message{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(api.sent) != 0 {
		t.Error("nothing should be sent on a cancelled context")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "exactly", n: 7, want: "exactly"},
		{in: "toolong", n: 4, want: "too…"},
		{in: "ééééé", n: 3, want: "éé…"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
