package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The json column type keeps the document text as written.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS offlinesw_records (
	store      TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      JSON        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (store, key)
)`

// PostgresBackend keeps every store as rows of one Postgres table. The pool
// is created on first use.
type PostgresBackend struct {
	dsn string

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// NewPostgresBackend prepares a backend for the database at dsn.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DATABASE_URL is required")
	}
	return &PostgresBackend{dsn: dsn}, nil
}

func (b *PostgresBackend) Driver() string { return DriverPostgres }

func (b *PostgresBackend) Open(ctx context.Context, name string) (Store, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	pool, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &pgStore{pool: pool, name: name}, nil
}

func (b *PostgresBackend) connect(ctx context.Context) (*pgxpool.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.pool != nil {
		return b.pool, nil
	}
	pool, err := pgxpool.New(ctx, b.dsn)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	b.pool = pool
	return pool, nil
}

func (b *PostgresBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}

type pgStore struct {
	pool *pgxpool.Pool
	name string
}

func (s *pgStore) Get(ctx context.Context, key string) (Record, error) {
	rec := Record{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT value::text, updated_at FROM offlinesw_records WHERE store = $1 AND key = $2`,
		s.name, key,
	).Scan(&rec.Value, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", s.name, key, err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *pgStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value::text, updated_at FROM offlinesw_records WHERE store = $1 ORDER BY key COLLATE "C"`,
		s.name,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.name, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.name, err)
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *pgStore) Put(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO offlinesw_records (store, key, value, updated_at) VALUES ($1, $2, $3::json, $4)
ON CONFLICT (store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`,
		s.name, key, string(value), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.name, key, err)
	}
	return nil
}

func (s *pgStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM offlinesw_records WHERE store = $1 AND key = $2`, s.name, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.name, key, err)
	}
	return nil
}
