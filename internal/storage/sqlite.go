package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"qbt_manager/internal/model"
	"qbt_manager/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements LedgerStore backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// LoadLedger returns all history entries ordered by first sighting.
func (s *SQLite) LoadLedger(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, title, first_seen FROM download_history ORDER BY first_seen, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query download history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var firstSeen string
		if err := rows.Scan(&e.URL, &e.Title, &firstSeen); err != nil {
			return nil, fmt.Errorf("scan download history: %w", err)
		}
		e.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveLedger inserts entries that are not yet stored, in one transaction.
func (s *SQLite) SaveLedger(ctx context.Context, entries []model.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO download_history (url, title, first_seen) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.URL, e.Title, e.FirstSeen.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("insert %q: %w", e.URL, err)
		}
	}
	return tx.Commit()
}
