package restapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/model"
)

const base = "http://api.test:1337"

func newClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	return New(WithBaseURL(base), WithHTTPClient(&http.Client{Transport: mt})), mt
}

func TestRestaurants(t *testing.T) {
	c, mt := newClient(t)
	mt.RegisterResponder(http.MethodGet, base+"/restaurants",
		httpmock.NewStringResponder(200, `[{"id":1,"name":"Mission Chinese Food","neighborhood":"Manhattan","cuisine_type":"Asian","is_favorite":"true"},{"id":"2","name":"Emily","is_favorite":false}]`))

	list, err := c.Restaurants(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.ID(1), list[0].ID)
	assert.True(t, bool(list[0].IsFavorite))
	assert.Equal(t, model.ID(2), list[1].ID)
}

func TestReviewsQuery(t *testing.T) {
	c, mt := newClient(t)
	mt.RegisterResponderWithQuery(http.MethodGet, base+"/reviews/",
		map[string]string{"restaurant_id": "3", "sort": "createdAt DESC"},
		httpmock.NewStringResponder(200, `[{"id":7,"restaurant_id":3,"name":"A","rating":"4","comments":"ok"}]`))

	list, err := c.Reviews(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.Rating(4), list[0].Rating)
}

func TestPostReviewSendsUpstreamFields(t *testing.T) {
	c, mt := newClient(t)
	mt.RegisterResponder(http.MethodPost, base+"/reviews/", func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		assert.JSONEq(t, `{"restaurant_id":3,"name":"A","rating":5,"comments":"Great"}`, string(b))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		return httpmock.NewStringResponse(201, `{"id":30,"restaurant_id":3,"name":"A","rating":5,"comments":"Great"}`), nil
	})

	created, err := c.PostReview(context.Background(), model.Review{
		ID: "local", RestaurantID: 3, Name: "A", Rating: 5, Comments: "Great", Type: model.TypeReview,
	})
	require.NoError(t, err)
	assert.Equal(t, "Great", created.Comments)
}

func TestSetFavorite(t *testing.T) {
	c, mt := newClient(t)
	mt.RegisterResponderWithQuery(http.MethodPut, base+"/restaurants/4/", "is_favorite=true",
		httpmock.NewStringResponder(200, `{"id":4,"is_favorite":"true"}`))

	r, err := c.SetFavorite(context.Background(), 4, true)
	require.NoError(t, err)
	assert.True(t, bool(r.IsFavorite))
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestErrorsClassify(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		retryable bool
		kind      error
	}{
		{"server error", httpmock.NewStringResponder(503, "down"), true, nil},
		{"rate limited", httpmock.NewStringResponder(429, ""), true, nil},
		{"timeout", httpmock.NewStringResponder(408, ""), true, nil},
		{"bad request", httpmock.NewStringResponder(400, "missing name"), false, nil},
		{"not found", httpmock.NewStringResponder(404, ""), false, nil},
		{"offline", httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")), true, errs.ErrNetwork},
		{"garbage", httpmock.NewStringResponder(200, "<html>"), false, errs.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mt := newClient(t)
			mt.RegisterResponder(http.MethodGet, base+"/restaurants", tt.responder)

			_, err := c.Restaurants(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.retryable, Retryable(err))
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Method: "POST", Path: "/reviews/", StatusCode: 400, Status: "400 Bad Request", Body: "missing name"}
	assert.Equal(t, "POST /reviews/: 400 Bad Request: missing name", err.Error())
	assert.False(t, Retryable(nil))
}

func TestURLKeepsBasePath(t *testing.T) {
	c := New(WithBaseURL("http://proxy.test/api/"))
	assert.Equal(t, "http://proxy.test/api/restaurants/1/", c.URL("/restaurants/1/", nil))
}
