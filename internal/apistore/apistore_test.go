package apistore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/store"
)

const restaurantsURL = "http://mws-restaurants-stage-3.herokuapp.com/restaurants"

func newStore(t *testing.T) *Store {
	t.Helper()
	backend := store.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	return New(store.NewHandle(backend, store.RestaurantStore))
}

func TestPutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Get(ctx, restaurantsURL)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, restaurantsURL, "application/json; charset=utf-8", []byte(`[{"id":1}]`))
	require.NoError(t, err)

	e, err := s.Get(ctx, restaurantsURL)
	require.NoError(t, err)
	assert.Equal(t, restaurantsURL, e.URL)
	assert.Equal(t, "application/json; charset=utf-8", e.ContentType)
	assert.Equal(t, fixed, e.FetchedAt)
	assert.JSONEq(t, `[{"id":1}]`, string(e.Body))

	_, err = s.Put(ctx, restaurantsURL, "application/json", []byte(`[{"id":1},{"id":2}]`))
	require.NoError(t, err)
	e, err = s.Get(ctx, restaurantsURL)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, string(e.Body))
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	s := newStore(t)
	_, err := s.Put(context.Background(), restaurantsURL, "application/json", []byte(`<html>`))
	assert.ErrorIs(t, err, errs.ErrParse)
}

type brokenStore struct{ store.Store }

func (brokenStore) Get(context.Context, string) (store.Record, error) {
	return store.Record{}, errors.New("disk I/O error")
}

func (brokenStore) Put(context.Context, string, []byte) error {
	return errors.New("disk I/O error")
}

func TestStoreFailuresAreTagged(t *testing.T) {
	ctx := context.Background()
	s := New(brokenStore{})

	_, err := s.Get(ctx, restaurantsURL)
	assert.ErrorIs(t, err, errs.ErrStore)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, restaurantsURL, "application/json", []byte(`[]`))
	assert.ErrorIs(t, err, errs.ErrStore)
}
