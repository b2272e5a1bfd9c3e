// Package replay delivers pending writes to the API once connectivity is back.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/metrics"
	"github.com/briangreenhill/offlinesw/internal/model"
	"github.com/briangreenhill/offlinesw/internal/pending"
	"github.com/briangreenhill/offlinesw/internal/restapi"
)

// SyncTag is the sync event tag that triggers a replay.
const SyncTag = "Synchronize"

// ErrIncomplete is returned when some writes failed with a retryable error
// and are still pending.
var ErrIncomplete = errors.New("replay incomplete")

// API is the subset of the REST client the replayer needs.
type API interface {
	PostReview(ctx context.Context, r model.Review) (*model.Review, error)
	SetFavorite(ctx context.Context, id model.ID, favorite bool) (*model.Restaurant, error)
}

// Result counts what one replay did per outcome.
type Result struct {
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
	Kept      int `json:"kept"`
}

func (r Result) add(o Result) Result {
	return Result{Delivered: r.Delivered + o.Delivered, Dropped: r.Dropped + o.Dropped, Kept: r.Kept + o.Kept}
}

type Replayer struct {
	api       API
	reviews   *pending.Queue[model.Review]
	favorites *pending.Queue[model.Favorite]
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu sync.Mutex
}

func New(api API, reviews *pending.Queue[model.Review], favorites *pending.Queue[model.Favorite], log zerolog.Logger, m *metrics.Metrics) *Replayer {
	return &Replayer{
		api:       api,
		reviews:   reviews,
		favorites: favorites,
		log:       log.With().Str("component", "replay").Logger(),
		metrics:   m,
	}
}

// Run drains the review queue, then the favorite queue. Delivered and
// permanently rejected writes are removed; retryable failures stay queued and
// make Run return ErrIncomplete. Concurrent calls run one after another.
func (r *Replayer) Run(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reviews, err := drain(ctx, r, r.reviews, func(ctx context.Context, v model.Review) error {
		_, err := r.api.PostReview(ctx, v)
		return err
	})
	if err != nil {
		return reviews, err
	}
	favorites, err := drain(ctx, r, r.favorites, func(ctx context.Context, v model.Favorite) error {
		_, err := r.api.SetFavorite(ctx, v.ID, v.IsFavorited)
		return err
	})
	res := reviews.add(favorites)
	if err != nil {
		return res, err
	}
	if res.Kept > 0 {
		return res, fmt.Errorf("%w: %d writes still pending", ErrIncomplete, res.Kept)
	}
	if res.Delivered+res.Dropped > 0 {
		r.log.Info().Int("delivered", res.Delivered).Int("dropped", res.Dropped).Msg("replay done")
	}
	return res, nil
}

func drain[T any](ctx context.Context, r *Replayer, q *pending.Queue[T], send func(context.Context, T) error) (Result, error) {
	var res Result
	items, err := q.List(ctx)
	if err != nil {
		return res, err
	}
	kind := q.Kind()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		l := r.log.With().Str("kind", kind).Str("key", item.Key).Logger()

		if item.Err != nil {
			l.Error().Err(item.Err).Msg("dropping undecodable pending write")
			if err := q.Remove(ctx, item.Key); err != nil {
				return res, err
			}
			r.metrics.Replay(kind, "dropped")
			res.Dropped++
			continue
		}

		err := send(ctx, item.Value)
		switch {
		case err == nil:
			r.metrics.Replay(kind, "delivered")
			res.Delivered++
		case restapi.Retryable(err):
			l.Warn().Err(err).Msg("replay failed, keeping write")
			r.metrics.Replay(kind, "kept")
			res.Kept++
			continue
		default:
			l.Error().Err(err).Msg("write rejected by api, dropping")
			r.metrics.Replay(kind, "dropped")
			res.Dropped++
		}
		if err := q.Remove(ctx, item.Key); err != nil {
			return res, err
		}
	}
	return res, nil
}
