// Package storage defines the download history persistence interface and its
// implementations.
package storage

import (
	"context"
	"path/filepath"
	"strings"

	"qbt_manager/internal/model"
)

// LedgerStore is the interface for download history persistence.
type LedgerStore interface {
	LoadLedger(ctx context.Context) ([]model.LedgerEntry, error)
	// SaveLedger merges entries into the store. Entries already present are
	// left untouched.
	SaveLedger(ctx context.Context, entries []model.LedgerEntry) error
	Close() error
}

// Open returns the store for path: a legacy JSON history file when path ends
// in ".json", a SQLite database otherwise.
func Open(path string) (LedgerStore, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewJSONFile(path), nil
	}
	db, err := NewSQLite(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
