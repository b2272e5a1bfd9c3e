package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	store      TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (store, key)
)`

// SQLiteBackend keeps every store as rows of one SQLite table. The database
// file is opened on first use.
type SQLiteBackend struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLiteBackend prepares a backend for the database file at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	return &SQLiteBackend{path: filepath.Clean(path)}, nil
}

func (b *SQLiteBackend) Driver() string { return DriverSQLite }

func (b *SQLiteBackend) Open(ctx context.Context, name string) (Store, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db, name: name}, nil
}

func (b *SQLiteBackend) conn(ctx context.Context) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.db != nil {
		return b.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := b.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	b.db = db
	return db, nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, error) {
	var (
		value     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM records WHERE store = ? AND key = ?`,
		s.name, key,
	).Scan(&value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", s.name, key, closedErr(err))
	}
	return Record{Key: key, Value: []byte(value), UpdatedAt: time.UnixMilli(updatedAt).UTC()}, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM records WHERE store = ? ORDER BY key`,
		s.name,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.name, closedErr(err))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			value     string
			updatedAt int64
		)
		if err := rows.Scan(&rec.Key, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.name, err)
		}
		rec.Value = []byte(value)
		rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records (store, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`,
		s.name, key, string(value), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.name, key, closedErr(err))
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND key = ?`, s.name, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.name, key, closedErr(err))
	}
	return nil
}

func closedErr(err error) error {
	if strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}
