package store

import (
	"fmt"
	"path/filepath"
	"regexp"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// Object store names used by the offline layer.
const (
	RestaurantStore = "restaurant-store"
	FavoriteStore   = "favorite-store"
	ReviewStore     = "review-store"
)

// Options configures NewBackend.
type Options struct {
	// Dir holds the SQLite file or the file store directories.
	Dir string
	// DSN is the Postgres connection string.
	DSN string
}

// NewBackend returns the backend for driver. No connection is made until a
// store is opened.
func NewBackend(driver string, opts Options) (Backend, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteBackend(filepath.Join(opts.Dir, "offlinesw.db"))
	case DriverPostgres:
		return NewPostgresBackend(opts.DSN)
	case DriverFile:
		return NewFileBackend(filepath.Join(opts.Dir, "stores"))
	case DriverMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

func validName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid store name %q", name)
	}
	return nil
}
