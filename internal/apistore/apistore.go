// Package apistore keeps the latest successful JSON response for every API
// URL so GET requests can be answered while the network is unreachable.
package apistore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/store"
)

// ErrNotFound is returned when no response was stored for a URL.
var ErrNotFound = errors.New("api response not cached")

// Entry is a cached API response.
type Entry struct {
	URL         string          `json:"url"`
	ContentType string          `json:"content_type"`
	FetchedAt   time.Time       `json:"fetched_at"`
	Body        json.RawMessage `json:"body"`
}

// Store reads and writes entries in one object store. Entries never expire;
// they are only replaced.
type Store struct {
	records store.Store
	now     func() time.Time
}

func New(records store.Store) *Store {
	return &Store{records: records, now: time.Now}
}

// Get returns the entry stored for url.
func (s *Store) Get(ctx context.Context, url string) (*Entry, error) {
	rec, err := s.records.Get(ctx, url)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Store("read api response", err)
	}
	var e Entry
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		return nil, errs.Parse("decode api response", err)
	}
	return &e, nil
}

// Put overwrites the entry for url. body must be a JSON document.
func (s *Store) Put(ctx context.Context, url, contentType string, body []byte) (*Entry, error) {
	if !json.Valid(body) {
		return nil, errs.Parse("store api response", errors.New("body is not valid JSON"))
	}
	e := &Entry{
		URL:         url,
		ContentType: contentType,
		FetchedAt:   s.now().UTC(),
		Body:        append(json.RawMessage(nil), body...),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, errs.Parse("encode api response", err)
	}
	if err := s.records.Put(ctx, url, bytes.TrimSpace(buf.Bytes())); err != nil {
		return nil, errs.Store("write api response", err)
	}
	return e, nil
}
