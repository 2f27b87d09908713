// Package ledger keeps the set of feed item URLs that were already submitted
// for download.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"qbt_manager/internal/model"
)

// Store persists ledger entries between runs.
type Store interface {
	LoadLedger(ctx context.Context) ([]model.LedgerEntry, error)
	SaveLedger(ctx context.Context, entries []model.LedgerEntry) error
}

// Ledger is an in-memory set of downloaded items keyed by normalized URL.
// It is not safe for concurrent use.
type Ledger struct {
	entries []model.LedgerEntry
	index   map[string]int
	added   int
}

// New builds a ledger from previously stored entries. Duplicate URLs keep the
// first entry.
func New(entries []model.LedgerEntry) *Ledger {
	l := &Ledger{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		key := Normalize(e.URL)
		if key == "" {
			continue
		}
		if _, ok := l.index[key]; ok {
			continue
		}
		e.URL = key
		l.index[key] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	return l
}

// Load reads the ledger from store. A store that cannot be read yields an
// empty ledger; the error is logged.
func Load(ctx context.Context, store Store, log *slog.Logger) *Ledger {
	entries, err := store.LoadLedger(ctx)
	if err != nil {
		log.Error("load download history, starting empty", "error", err)
		return New(nil)
	}
	l := New(entries)
	log.Debug("download history loaded", "entries", len(l.entries))
	return l
}

// Contains reports whether url was recorded before.
func (l *Ledger) Contains(rawURL string) bool {
	_, ok := l.index[Normalize(rawURL)]
	return ok
}

// Record adds an entry for url. It returns false if the URL is empty or
// already present.
func (l *Ledger) Record(title, rawURL string, now time.Time) bool {
	key := Normalize(rawURL)
	if key == "" {
		return false
	}
	if _, ok := l.index[key]; ok {
		return false
	}
	l.index[key] = len(l.entries)
	l.entries = append(l.entries, model.LedgerEntry{URL: key, Title: title, FirstSeen: now})
	l.added++
	return true
}

// Entries returns a copy of all entries in insertion order.
func (l *Ledger) Entries() []model.LedgerEntry {
	out := make([]model.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Added returns how many entries were recorded since the ledger was built.
func (l *Ledger) Added() int {
	return l.added
}

// Save writes the full ledger to store.
func (l *Ledger) Save(ctx context.Context, store Store) error {
	if err := store.SaveLedger(ctx, l.Entries()); err != nil {
		return fmt.Errorf("save download history: %w", err)
	}
	return nil
}

// Normalize returns the ledger key for a URL: surrounding whitespace is
// removed and the scheme and host are lowercased. Path and query are kept
// as they are.
func Normalize(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if u.Opaque != "" || host == "" {
		// magnet: and similar URIs have no host.
		return scheme + s[len(u.Scheme):]
	}
	rest := s[len(u.Scheme):]
	start := 0
	if strings.HasPrefix(rest, "://") {
		start = 3
	}
	if u.User != nil {
		if at := strings.Index(rest[start:], "@"); at >= 0 {
			start += at + 1
		}
	}
	end := start + len(u.Host)
	if end > len(rest) || !strings.EqualFold(rest[start:end], u.Host) {
		return scheme + rest
	}
	return scheme + rest[:start] + host + rest[end:]
}

// Import merges the entries of src into dst and returns how many were new.
// Unlike Load, a src that cannot be read is an error. Entries keep their
// original first-seen time.
func Import(ctx context.Context, src, dst Store) (int, error) {
	incoming, err := src.LoadLedger(ctx)
	if err != nil {
		return 0, fmt.Errorf("read import source: %w", err)
	}
	existing, err := dst.LoadLedger(ctx)
	if err != nil {
		return 0, fmt.Errorf("read download history: %w", err)
	}

	l := New(existing)
	for _, e := range incoming {
		l.Record(e.Title, e.URL, e.FirstSeen)
	}
	if l.Added() == 0 {
		return 0, nil
	}
	if err := l.Save(ctx, dst); err != nil {
		return 0, err
	}
	return l.Added(), nil
}
