// Package store provides named, persistent key/value object stores holding
// JSON documents, the way a browser offers IndexedDB object stores.
//
// A Backend owns the underlying database (SQLite file, Postgres, a directory
// of JSON files, or process memory) and hands out one Store per name.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidValue is returned when a value is not a JSON document.
	ErrInvalidValue = errors.New("value is not valid JSON")
	// ErrClosed is returned by stores whose backend has been closed.
	ErrClosed = errors.New("store closed")
)

// Record is one stored document.
type Record struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Reader reads records.
type Reader interface {
	// Get returns the record stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)
	// List returns every record ordered by key.
	List(ctx context.Context) ([]Record, error)
}

// Writer writes records.
type Writer interface {
	// Put stores value under key, replacing any previous record.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Store is a single named object store.
type Store interface {
	Reader
	Writer
}

// Backend opens named stores over one underlying database.
type Backend interface {
	// Open returns the store called name, creating it if needed.
	Open(ctx context.Context, name string) (Store, error)
	// Driver names the backend ("sqlite", "postgres", "file", "memory").
	Driver() string
	Close() error
}
