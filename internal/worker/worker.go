// Package worker is the offline layer's lifecycle: install primes the static
// cache, activate drops old generations, message persists pending writes,
// sync schedules their replay and fetch serves proxied requests.
package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/assets"
	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/jobs"
	"github.com/briangreenhill/offlinesw/internal/metrics"
	"github.com/briangreenhill/offlinesw/internal/model"
	"github.com/briangreenhill/offlinesw/internal/pending"
	"github.com/briangreenhill/offlinesw/internal/protocol"
	"github.com/briangreenhill/offlinesw/internal/replay"
)

// Deps are the worker's collaborators. The pending queues sit on lazily
// opened store handles, so nothing is opened until first use.
type Deps struct {
	Assets      *assets.Storage
	StaticCache string
	CachePrefix string
	Manifest    []*url.URL
	Client      assets.Doer

	Fetch     http.Handler
	Reviews   *pending.Queue[model.Review]
	Favorites *pending.Queue[model.Favorite]
	Sync      jobs.Scheduler

	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

type Worker struct {
	deps Deps
	log  zerolog.Logger
}

func New(deps Deps) *Worker {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	return &Worker{deps: deps, log: deps.Log.With().Str("component", "worker").Logger()}
}

// Install fetches the manifest into the current static cache generation.
func (w *Worker) Install(ctx context.Context) (int, error) {
	cache, err := w.deps.Assets.Open(w.deps.StaticCache)
	if err != nil {
		return 0, err
	}
	n, err := assets.Install(ctx, cache, w.deps.Client, w.deps.Manifest, 4)
	if err != nil {
		return 0, errs.Network("install "+w.deps.StaticCache, err)
	}
	w.log.Info().Str("cache", w.deps.StaticCache).Int("assets", n).Msg("installed")
	return n, nil
}

// Activate deletes every cache generation but the current one.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	deleted, err := assets.Activate(ctx, w.deps.Assets, w.deps.StaticCache, w.deps.CachePrefix)
	w.deps.Metrics.CachesDeleted(len(deleted))
	if err != nil {
		return deleted, err
	}
	w.log.Info().Str("cache", w.deps.StaticCache).Strs("deleted", deleted).Msg("activated")
	return deleted, nil
}

// ServeHTTP handles a fetch.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.deps.Fetch.ServeHTTP(rw, r)
}

// Message persists a pending write and acknowledges the outcome.
func (w *Worker) Message(ctx context.Context, m protocol.Message) protocol.Ack {
	if err := m.Validate(); err != nil {
		w.log.Warn().Err(err).Str("type", m.Kind.String()).Msg("rejecting message")
		return protocol.Rejected(m.Kind, err)
	}

	var (
		key string
		err error
	)
	switch m.Kind {
	case protocol.KindFavorite:
		f := *m.Favorite
		f.Type = model.TypeFavorite
		key, err = w.deps.Favorites.Push(ctx, "", f)
	case protocol.KindReview:
		r := *m.Review
		r.Type = model.TypeReview
		if r.CreatedAt == 0 {
			r.CreatedAt = w.deps.Now().UnixMilli()
		}
		if r.ID == "" {
			r.ID = pending.NewKey()
		}
		key, err = w.deps.Reviews.Push(ctx, r.ID, r)
	default:
		err = protocol.ErrUnknownKind
	}

	w.deps.Metrics.PendingWrite(m.Kind.String(), err == nil)
	if err != nil {
		w.log.Error().Err(err).Str("type", m.Kind.String()).Str("kind", errs.Kind(err)).Msg("persist pending write")
		return protocol.Rejected(m.Kind, err)
	}
	w.log.Info().Str("type", m.Kind.String()).Str("key", key).Msg("pending write stored")
	return protocol.Accepted(m.Kind, key)
}

// ErrNoScheduler is returned by Sync when replays cannot be scheduled.
var ErrNoScheduler = errors.New("no sync scheduler configured")

// Sync schedules a replay when tag is the replay tag and reports whether it did.
func (w *Worker) Sync(ctx context.Context, tag string) (bool, error) {
	if tag != replay.SyncTag {
		w.log.Debug().Str("tag", tag).Msg("ignoring sync tag")
		return false, nil
	}
	if w.deps.Sync == nil {
		return false, ErrNoScheduler
	}
	if err := w.deps.Sync.Schedule(ctx, "sync:"+tag); err != nil {
		return false, err
	}
	return true, nil
}

// Reconnected schedules a replay after connectivity came back.
func (w *Worker) Reconnected() {
	if w.deps.Sync == nil {
		return
	}
	if err := w.deps.Sync.Schedule(context.Background(), "reconnect"); err != nil {
		w.log.Error().Err(err).Msg("schedule replay after reconnect")
	}
}

// Pending lists the writes waiting for replay.
type Pending struct {
	Reviews   []model.Review   `json:"reviews"`
	Favorites []model.Favorite `json:"favorites"`
}

func (w *Worker) Pending(ctx context.Context) (Pending, error) {
	p := Pending{Reviews: []model.Review{}, Favorites: []model.Favorite{}}
	reviews, err := w.deps.Reviews.List(ctx)
	if err != nil {
		return p, err
	}
	for _, it := range reviews {
		if it.Err == nil {
			p.Reviews = append(p.Reviews, it.Value)
		}
	}
	favorites, err := w.deps.Favorites.List(ctx)
	if err != nil {
		return p, err
	}
	for _, it := range favorites {
		if it.Err == nil {
			p.Favorites = append(p.Favorites, it.Value)
		}
	}
	return p, nil
}
