package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"qbt_manager/internal/model"
)

// JSONFile implements LedgerStore on top of the legacy download history file
// ({"items":[{"title","comment","url","dateDownloaded"}]}).
type JSONFile struct {
	path string
	now  func() time.Time
}

// NewJSONFile returns a store for the history file at path. The file does not
// need to exist.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path, now: time.Now}
}

type historyFile struct {
	Items []historyItem `json:"items"`
}

type historyItem struct {
	Title          string      `json:"title"`
	Comment        string      `json:"comment"`
	URL            string      `json:"url"`
	DateDownloaded historyTime `json:"dateDownloaded"`
}

// historyTime reads both RFC 3339 timestamps and the "/Date(ms+zone)/" form
// written by older versions of the history file. It always writes RFC 3339.
type historyTime struct {
	time.Time
}

var legacyDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

func (h *historyTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		return nil
	}
	if m := legacyDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return fmt.Errorf("date %q: %w", s, err)
		}
		h.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	h.Time = t.UTC()
	return nil
}

func (h historyTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.UTC().Format(time.RFC3339))
}

// Close is a no-op; the file is only open during load and save.
func (s *JSONFile) Close() error {
	return nil
}

// LoadLedger reads the history file. A missing file is an empty history.
func (s *JSONFile) LoadLedger(_ context.Context) ([]model.LedgerEntry, error) {
	items, err := s.read()
	if err != nil {
		return nil, err
	}
	entries := make([]model.LedgerEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, model.LedgerEntry{URL: it.URL, Title: it.Title, FirstSeen: it.DateDownloaded.Time})
	}
	return entries, nil
}

// SaveLedger merges entries into the file and replaces it atomically. An
// unreadable file is moved aside first so that its content is kept.
func (s *JSONFile) SaveLedger(_ context.Context, entries []model.LedgerEntry) error {
	items, err := s.read()
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return fmt.Errorf("move unreadable history aside: %w", rerr)
		}
		items = nil
	}

	seen := make(map[string]struct{}, len(items)+len(entries))
	for _, it := range items {
		seen[it.URL] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := seen[e.URL]; ok {
			continue
		}
		seen[e.URL] = struct{}{}
		items = append(items, historyItem{Title: e.Title, URL: e.URL, DateDownloaded: historyTime{e.FirstSeen}})
	}
	if items == nil {
		items = []historyItem{}
	}

	data, err := json.MarshalIndent(historyFile{Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func (s *JSONFile) read() ([]historyItem, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	// Files written by older versions may start with a UTF-8 BOM.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var h historyFile
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", s.path, err)
	}
	return h.Items, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
