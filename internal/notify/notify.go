// Package notify delivers run summaries by email and Telegram.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Message is a notification with a subject line and a plain text body.
type Message struct {
	Subject string
	Body    string
}

// Notifier sends a message. Delivery is best effort; callers log failures
// and carry on.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to several notifiers.
type Multi struct {
	notifiers []Notifier
	log       *slog.Logger
}

// NewMulti returns a Multi over the given notifiers. Nil entries are skipped.
func NewMulti(log *slog.Logger, notifiers ...Notifier) *Multi {
	m := &Multi{log: log}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of configured notifiers.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify sends msg to every notifier, even if some fail. The returned error
// joins all failures.
func (m *Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			m.log.Error("send notification", "subject", msg.Subject, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
