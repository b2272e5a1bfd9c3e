// Package restapi is a client for the restaurant review REST API.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/model"
)

const DefaultBaseURL = "http://mws-restaurants-stage-3.herokuapp.com"

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// Retryable reports whether err is worth retrying: transport failures,
// timeouts and retryable statuses. Everything else is permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, errs.ErrNetwork)
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{http: http.DefaultClient, baseURL: u}
	for _, o := range opts {
		o(c)
	}
	return c
}

// URL builds the absolute URL for p, keeping a trailing slash when p has one.
func (c *Client) URL(p string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.Parse("encode "+method+" "+p, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(p, q), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(method+" "+p, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Network("read "+method+" "+p, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       p,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errs.Parse("decode "+method+" "+p, err)
	}
	return nil
}

// Restaurants returns every restaurant.
func (c *Client) Restaurants(ctx context.Context) ([]model.Restaurant, error) {
	var list []model.Restaurant
	if err := c.do(ctx, http.MethodGet, "/restaurants", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Restaurant returns one restaurant by id.
func (c *Client) Restaurant(ctx context.Context, id model.ID) (*model.Restaurant, error) {
	var r model.Restaurant
	if err := c.do(ctx, http.MethodGet, "/restaurants/"+id.String(), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Reviews returns the reviews of a restaurant, newest first.
func (c *Client) Reviews(ctx context.Context, restaurantID model.ID) ([]model.Review, error) {
	q := url.Values{}
	q.Set("restaurant_id", restaurantID.String())
	q.Set("sort", "createdAt DESC")
	var list []model.Review
	if err := c.do(ctx, http.MethodGet, "/reviews/", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// PostReview creates a review and returns the API's copy of it.
func (c *Client) PostReview(ctx context.Context, r model.Review) (*model.Review, error) {
	var created model.Review
	if err := c.do(ctx, http.MethodPost, "/reviews/", nil, r.Upstream(), &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// SetFavorite marks a restaurant as favorite or not.
func (c *Client) SetFavorite(ctx context.Context, id model.ID, favorite bool) (*model.Restaurant, error) {
	q := url.Values{}
	q.Set("is_favorite", strconv.FormatBool(favorite))
	var r model.Restaurant
	if err := c.do(ctx, http.MethodPut, "/restaurants/"+id.String()+"/", q, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
