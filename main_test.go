package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/offlinesw/internal/protocol"
)

const restaurantsJSON = `[
	{"id":1,"name":"Mission Chinese Food","neighborhood":"Manhattan","cuisine_type":"Asian","photograph":"1","is_favorite":"true"},
	{"id":2,"name":"Emily","neighborhood":"Brooklyn","cuisine_type":"Pizza","photograph":"2","is_favorite":false},
	{"id":3,"name":"Kang Ho Dong Baekjeong","neighborhood":"Manhattan","cuisine_type":"Asian","photograph":"3"}
]`

// fakeProxy stands in for cmd/api while the API is unreachable: cached GETs
// still answer, everything else that needs the network gets 502.
type fakeProxy struct {
	mu       sync.Mutex
	messages []protocol.Message
}

func (p *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.IsAbs() && r.Method == http.MethodGet && r.URL.Path == "/restaurants":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Offline-Source", "store")
		_, _ = w.Write([]byte(restaurantsJSON))
	case r.URL.IsAbs():
		http.Error(w, "offline", http.StatusBadGateway)
	case r.URL.Path == "/_sw/message":
		var m protocol.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(protocol.Rejected(protocol.KindUnknown, err))
			return
		}
		p.mu.Lock()
		p.messages = append(p.messages, m)
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(protocol.Accepted(m.Kind, "0190c1d2-0000-7000-8000-000000000001"))
	case r.URL.Path == "/_sw/install":
		_, _ = w.Write([]byte(`{"cached":29}`))
	case r.URL.Path == "/_sw/sync":
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"scheduled":true}`))
	case r.URL.Path == "/_sw/pending":
		_, _ = w.Write([]byte(`{"reviews":[],"favorites":[{"id":2,"isFavorited":true,"type":"favorite"}]}`))
	default:
		http.NotFound(w, r)
	}
}

func run(t *testing.T, proxy *fakeProxy, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(proxy)
	t.Cleanup(srv.Close)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--proxy", srv.URL, "--api", "http://api.test:1337"))
	err := cmd.Execute()
	return out.String(), err
}

func TestRestaurantsFilters(t *testing.T) {
	out, err := run(t, &fakeProxy{}, "restaurants", "--neighborhood", "Manhattan")
	require.NoError(t, err)
	assert.Contains(t, out, "Mission Chinese Food")
	assert.Contains(t, out, "Kang Ho Dong Baekjeong")
	assert.NotContains(t, out, "Emily")
	assert.Contains(t, out, "./restaurant.html?id=1")
	assert.Contains(t, out, "/img/1.webp")
}

func TestRestaurantsFilterLists(t *testing.T) {
	out, err := run(t, &fakeProxy{}, "restaurants", "filters")
	require.NoError(t, err)
	assert.Contains(t, out, "Brooklyn")
	assert.Contains(t, out, "Pizza")
	assert.Equal(t, 1, strings.Count(out, "Manhattan"))
}

func TestOfflineReviewIsQueued(t *testing.T) {
	proxy := &fakeProxy{}
	out, err := run(t, proxy, "review", "3", "--name", "A", "--rating", "5", "--comments", "Great")
	require.NoError(t, err)
	assert.Contains(t, out, "saved offline")

	require.Len(t, proxy.messages, 1)
	m := proxy.messages[0]
	require.Equal(t, protocol.KindReview, m.Kind)
	assert.Equal(t, "review", m.Review.Type)
	assert.Equal(t, "Great", m.Review.Comments)
	assert.NotZero(t, m.Review.CreatedAt)
}

func TestOfflineFavoriteIsQueued(t *testing.T) {
	proxy := &fakeProxy{}
	out, err := run(t, proxy, "favorite", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "restaurant 2 marked as favorite")

	require.Len(t, proxy.messages, 1)
	assert.True(t, proxy.messages[0].Favorite.IsFavorited)
}

func TestControlCommands(t *testing.T) {
	out, err := run(t, &fakeProxy{}, "install")
	require.NoError(t, err)
	assert.Equal(t, "cached 29 assets\n", out)

	out, err = run(t, &fakeProxy{}, "sync")
	require.NoError(t, err)
	assert.Equal(t, "replay scheduled\n", out)

	out, err = run(t, &fakeProxy{}, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, `"isFavorited": true`)
}

func TestInvalidRestaurantID(t *testing.T) {
	_, err := run(t, &fakeProxy{}, "favorite", "abc")
	assert.Error(t, err)
}
