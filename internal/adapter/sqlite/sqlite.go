// Package sqlite implements a file-backed key-value slot on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"calorielog/internal/adapter/kvstore"
)

// Slot stores string values in a single kv table.
type Slot struct {
	db *sql.DB
}

var (
	_ kvstore.Slot    = (*Slot)(nil)
	_ kvstore.Updater = (*Slot)(nil)
)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Slot, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps immediate transactions from deadlocking.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Slot{db: db}, nil
}

// Close closes the database.
func (s *Slot) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	return get(ctx, s.db, key)
}

// Set stores value under key.
func (s *Slot) Set(ctx context.Context, key, value string) error {
	return set(ctx, s.db, key, value)
}

// Remove deletes key.
func (s *Slot) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?;", key)
	return err
}

// Update runs fn inside an immediate transaction so the read and the write
// cannot interleave with another process.
func (s *Slot) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	v, ok, err := get(ctx, tx, key)
	if err != nil {
		return err
	}
	next, err := fn(v, ok)
	if err != nil {
		return err
	}
	if err := set(ctx, tx, key, next); err != nil {
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func get(ctx context.Context, q querier, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?;", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func set(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value;",
		key, value,
	)
	return err
}
