package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps stores in process memory. Records never expire.
type MemoryBackend struct {
	mu     sync.Mutex
	stores map[string]*gocache.Cache
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: make(map[string]*gocache.Cache)}
}

func (b *MemoryBackend) Driver() string { return DriverMemory }

func (b *MemoryBackend) Open(ctx context.Context, name string) (Store, error) {
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
	c, ok := b.stores[name]
	if !ok {
		c = gocache.New(gocache.NoExpiration, 0)
		b.stores[name] = c
	}
	return &memStore{backend: b, items: c}, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, c := range b.stores {
		c.Flush()
	}
	return nil
}

func (b *MemoryBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type memStore struct {
	backend *MemoryBackend
	items   *gocache.Cache
}

func (s *memStore) Get(ctx context.Context, key string) (Record, error) {
	if err := s.check(ctx); err != nil {
		return Record{}, err
	}
	v, ok := s.items.Get(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(v.(Record)), nil
}

func (s *memStore) List(ctx context.Context) ([]Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	items := s.items.Items()
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, cloneRecord(item.Object.(Record)))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *memStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	rec := cloneRecord(Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	s.items.Set(key, rec, gocache.NoExpiration)
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.items.Delete(key)
	return nil
}

func (s *memStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.backend.isClosed() {
		return ErrClosed
	}
	return nil
}

// cloneRecord copies the value so callers cannot mutate stored bytes.
func cloneRecord(r Record) Record {
	r.Value = append([]byte(nil), r.Value...)
	return r
}
