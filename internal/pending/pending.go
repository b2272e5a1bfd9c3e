// Package pending holds writes made while offline until the sync replayer
// delivers them.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/model"
	"github.com/briangreenhill/offlinesw/store"
)

// Policy decides how pending writes are keyed.
type Policy string

const (
	// PolicyQueue keys every write by a unique, time-ordered id.
	PolicyQueue Policy = "queue"
	// PolicySlot keeps one write per kind; a newer write replaces the older one.
	PolicySlot Policy = "slot"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyQueue, "":
		return PolicyQueue, nil
	case PolicySlot:
		return PolicySlot, nil
	default:
		return "", fmt.Errorf("unknown pending policy %q", s)
	}
}

// NewKey returns a unique key whose string order follows creation time.
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Item is one queued write. Err is set when the stored record could not be
// decoded; Value is then the zero value.
type Item[T any] struct {
	Key       string
	Value     T
	UpdatedAt time.Time
	Err       error
}

// Queue is an ordered collection of pending writes of one kind.
type Queue[T any] struct {
	kind    string
	policy  Policy
	records store.Store
	newKey  func() string
}

func NewQueue[T any](records store.Store, kind string, policy Policy) *Queue[T] {
	if policy == "" {
		policy = PolicyQueue
	}
	return &Queue[T]{kind: kind, policy: policy, records: records, newKey: NewKey}
}

// NewFavorites returns the queue of offline favorite toggles.
func NewFavorites(records store.Store, policy Policy) *Queue[model.Favorite] {
	return NewQueue[model.Favorite](records, model.TypeFavorite, policy)
}

// NewReviews returns the queue of offline reviews.
func NewReviews(records store.Store, policy Policy) *Queue[model.Review] {
	return NewQueue[model.Review](records, model.TypeReview, policy)
}

func (q *Queue[T]) Kind() string   { return q.kind }
func (q *Queue[T]) Policy() Policy { return q.policy }

// Push persists v and returns its key. Under PolicyQueue key is used when
// non-empty, otherwise a new one is generated. Under PolicySlot the key is
// always the kind name.
func (q *Queue[T]) Push(ctx context.Context, key string, v T) (string, error) {
	switch {
	case q.policy == PolicySlot:
		key = q.kind
	case key == "":
		key = q.newKey()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", errs.Parse("encode pending "+q.kind, err)
	}
	if err := q.records.Put(ctx, key, b); err != nil {
		return "", errs.Store("persist pending "+q.kind, err)
	}
	return key, nil
}

// List returns every pending write in key order.
func (q *Queue[T]) List(ctx context.Context) ([]Item[T], error) {
	recs, err := q.records.List(ctx)
	if err != nil {
		return nil, errs.Store("list pending "+q.kind, err)
	}
	items := make([]Item[T], 0, len(recs))
	for _, r := range recs {
		item := Item[T]{Key: r.Key, UpdatedAt: r.UpdatedAt}
		if err := json.Unmarshal(r.Value, &item.Value); err != nil {
			item.Err = errs.Parse("decode pending "+q.kind+" "+r.Key, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Remove drops the write stored under key.
func (q *Queue[T]) Remove(ctx context.Context, key string) error {
	if err := q.records.Delete(ctx, key); err != nil {
		return errs.Store("remove pending "+q.kind, err)
	}
	return nil
}

// Len reports how many writes are pending.
func (q *Queue[T]) Len(ctx context.Context) (int, error) {
	recs, err := q.records.List(ctx)
	if err != nil {
		return 0, errs.Store("count pending "+q.kind, err)
	}
	return len(recs), nil
}
