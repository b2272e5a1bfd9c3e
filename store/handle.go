package store

import (
	"context"
	"sync"
)

// Handle is a Store that opens its named store on first use and memoizes
// it. A failed open is retried on the next call.
type Handle struct {
	name    string
	backend Backend

	mu    sync.Mutex
	store Store
}

var _ Store = (*Handle)(nil)

// NewHandle returns a lazy handle for the store called name.
func NewHandle(backend Backend, name string) *Handle {
	return &Handle{name: name, backend: backend}
}

// Name returns the object store name.
func (h *Handle) Name() string { return h.name }

// Store opens (once) and returns the underlying store.
func (h *Handle) Store(ctx context.Context) (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store != nil {
		return h.store, nil
	}
	s, err := h.backend.Open(ctx, h.name)
	if err != nil {
		return nil, err
	}
	h.store = s
	return s, nil
}

func (h *Handle) Get(ctx context.Context, key string) (Record, error) {
	s, err := h.Store(ctx)
	if err != nil {
		return Record{}, err
	}
	return s.Get(ctx, key)
}

func (h *Handle) List(ctx context.Context) ([]Record, error) {
	s, err := h.Store(ctx)
	if err != nil {
		return nil, err
	}
	return s.List(ctx)
}

func (h *Handle) Put(ctx context.Context, key string, value []byte) error {
	s, err := h.Store(ctx)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, value)
}

func (h *Handle) Delete(ctx context.Context, key string) error {
	s, err := h.Store(ctx)
	if err != nil {
		return err
	}
	return s.Delete(ctx, key)
}
