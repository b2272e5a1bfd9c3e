package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileBackend keeps each store in its own directory, one JSON file per record.
type FileBackend struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// fileEntry is the on-disk envelope of a record.
type fileEntry struct {
	Key       string          `json:"key"`
	UpdatedAt time.Time       `json:"updated_at"`
	Value     json.RawMessage `json:"value"`
}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Driver() string { return DriverFile }

func (b *FileBackend) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	dir := filepath.Join(b.dir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &fileStore{backend: b, dir: dir}, nil
}

func (b *FileBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *FileBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fileStore struct {
	backend *FileBackend
	dir     string
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

func (s *fileStore) Get(ctx context.Context, key string) (Record, error) {
	if err := s.check(ctx); err != nil {
		return Record{}, err
	}
	entry, err := readEntry(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if entry.Key != key {
		return Record{}, ErrNotFound
	}
	return Record{Key: entry.Key, Value: entry.Value, UpdatedAt: entry.UpdatedAt}, nil
}

func (s *fileStore) List(ctx context.Context) ([]Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := readEntry(filepath.Join(s.dir, f.Name()))
		if errors.Is(err, os.ErrNotExist) {
			// removed between ReadDir and ReadFile
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Key: entry.Key, Value: entry.Value, UpdatedAt: entry.UpdatedAt})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *fileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	entry := fileEntry{Key: key, UpdatedAt: time.Now().UTC(), Value: value}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entry); err != nil {
		return err
	}
	data := buf.Bytes()

	// Write to temporary file first, then rename (atomic operation)
	path := s.path(key)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.backend.isClosed() {
		return ErrClosed
	}
	return nil
}

func readEntry(path string) (*fileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &entry, nil
}
