// Package page drives the restaurant page's writes: favorite toggles and
// review submission, online against the API and offline through the worker.
package page

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/model"
	"github.com/briangreenhill/offlinesw/internal/pending"
	"github.com/briangreenhill/offlinesw/internal/protocol"
)

// View is what the user sees.
type View interface {
	SetFavorite(id model.ID, favorite bool)
	AppendReview(r model.Review)
	RemoveReview(id string)
	SetReviews(list []model.Review)
	ResetForm()
}

type API interface {
	SetFavorite(ctx context.Context, id model.ID, favorite bool) (*model.Restaurant, error)
	PostReview(ctx context.Context, r model.Review) (*model.Review, error)
	Reviews(ctx context.Context, restaurantID model.ID) ([]model.Review, error)
}

// Worker accepts pending writes.
type Worker interface {
	Post(ctx context.Context, m protocol.Message) (protocol.Ack, error)
}

// Connectivity reports whether the API is believed reachable.
type Connectivity interface {
	Online() bool
}

// ReviewForm is the raw review form.
type ReviewForm struct {
	RestaurantID model.ID
	Name         string
	Rating       string
	Comments     string
}

// Review reads the form. A missing rating counts as 1.
func (f ReviewForm) Review() (model.Review, error) {
	r := model.Review{
		RestaurantID: f.RestaurantID,
		Name:         f.Name,
		Comments:     f.Comments,
		Rating:       1,
	}
	if s := strings.TrimSpace(f.Rating); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return r, fmt.Errorf("rating %q: %w", f.Rating, err)
		}
		r.Rating = model.Rating(n)
	}
	return r, nil
}

type Options struct {
	View         View
	API          API
	Worker       Worker
	Connectivity Connectivity
	Log          zerolog.Logger
	Now          func() time.Time
}

type Controller struct {
	view   View
	api    API
	worker Worker
	conn   Connectivity
	log    zerolog.Logger
	now    func() time.Time
}

func New(opts Options) *Controller {
	c := &Controller{
		view:   opts.View,
		api:    opts.API,
		worker: opts.Worker,
		conn:   opts.Connectivity,
		log:    opts.Log.With().Str("component", "page").Logger(),
		now:    opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Controller) online() bool {
	return c.conn == nil || c.conn.Online()
}

// ToggleFavorite flips the favorite state of a restaurant and returns the
// new state. A network failure while online falls back to the offline path.
func (c *Controller) ToggleFavorite(ctx context.Context, id model.ID, current bool) (bool, error) {
	next := !current
	if c.online() {
		_, err := c.api.SetFavorite(ctx, id, next)
		if err == nil {
			c.view.SetFavorite(id, next)
			return next, nil
		}
		if !errors.Is(err, errs.ErrNetwork) {
			return current, err
		}
		c.log.Warn().Err(err).Msg("api unreachable, queueing favorite")
	}

	c.view.SetFavorite(id, next)
	ack, err := c.worker.Post(ctx, protocol.FavoriteMessage(model.Favorite{ID: id, IsFavorited: next}))
	if err == nil {
		err = ack.Err()
	}
	if err != nil {
		c.view.SetFavorite(id, current)
		return current, fmt.Errorf("queue favorite %s: %w", id, err)
	}
	return next, nil
}

// SubmitReview posts a review, or queues it while offline. The returned
// review is the API's copy online and the queued copy offline.
func (c *Controller) SubmitReview(ctx context.Context, form ReviewForm) (*model.Review, error) {
	r, err := form.Review()
	if err != nil {
		return nil, err
	}
	if c.online() {
		created, err := c.api.PostReview(ctx, r)
		if err == nil {
			c.view.ResetForm()
			c.refreshReviews(ctx, r.RestaurantID)
			return created, nil
		}
		if !errors.Is(err, errs.ErrNetwork) {
			return nil, err
		}
		c.log.Warn().Err(err).Msg("api unreachable, queueing review")
	}

	r.ID = pending.NewKey()
	r.Type = model.TypeReview
	r.CreatedAt = c.now().UnixMilli()
	c.view.AppendReview(r)

	ack, err := c.worker.Post(ctx, protocol.ReviewMessage(r))
	if err == nil {
		err = ack.Err()
	}
	if err != nil {
		c.view.RemoveReview(r.ID)
		return nil, fmt.Errorf("queue review: %w", err)
	}
	c.view.ResetForm()
	return &r, nil
}

func (c *Controller) refreshReviews(ctx context.Context, id model.ID) {
	list, err := c.api.Reviews(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Str("restaurant_id", id.String()).Msg("refresh reviews")
		return
	}
	c.view.SetReviews(list)
}
