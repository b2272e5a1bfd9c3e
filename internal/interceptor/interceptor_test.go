package interceptor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/offlinesw/internal/apistore"
	"github.com/briangreenhill/offlinesw/internal/assets"
	"github.com/briangreenhill/offlinesw/internal/config"
	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/restapi"
	"github.com/briangreenhill/offlinesw/store"
)

const (
	origin      = "http://localhost:8000"
	restaurants = "http://api.test:1337/restaurants"
	listJSON    = `[{"id":1,"name":"Mission Chinese Food"},{"id":2,"name":"Emily"}]`
)

type recorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *recorder) Observe(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

type fixture struct {
	i         *Interceptor
	transport *httpmock.MockTransport
	api       *apistore.Store
	static    *assets.Cache
	observed  *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	static, err := assets.NewStorage("").Open("restaurant-static")
	require.NoError(t, err)
	api := apistore.New(store.NewHandle(store.NewMemoryBackend(), store.RestaurantStore))
	mt := httpmock.NewMockTransport()
	upstream, _ := url.Parse(origin)
	rec := &recorder{}

	i := New(Options{
		Upstream:     upstream,
		LocalAPIHost: "localhost",
		Client:       &http.Client{Transport: mt},
		Static:       static,
		API:          api,
		FetchTimeout: time.Second,
		Observer:     rec,
		Log:          zerolog.Nop(),
	})
	t.Cleanup(i.Wait)
	return fixture{i: i, transport: mt, api: api, static: static, observed: rec}
}

func jsonResponder(status int, body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", "application/json; charset=utf-8")
		return resp, nil
	}
}

func offline() httpmock.Responder {
	return httpmock.NewErrorResponder(errors.New("dial tcp: connection refused"))
}

func serve(f fixture, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.i.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestRoute(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		method, target string
		want           Strategy
	}{
		{http.MethodGet, restaurants, StaleWhileRevalidate},
		{http.MethodGet, "http://LOCALHOST:8000/index.html", CacheFirst},
		{http.MethodGet, origin + "/js/main.js", CacheFirst},
		{http.MethodPost, "http://api.test:1337/reviews/", CacheFirst},
		{http.MethodPut, "http://api.test:1337/restaurants/1/?is_favorite=true", CacheFirst},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.i.Route(tt.method, u), "%s %s", tt.method, tt.target)
	}
}

func TestTargetResolvesOriginForm(t *testing.T) {
	f := newFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/restaurant.html?id=3", nil)
	assert.Equal(t, origin+"/restaurant.html?id=3", f.i.Target(r).String())

	r = httptest.NewRequest(http.MethodGet, restaurants, nil)
	assert.Equal(t, restaurants, f.i.Target(r).String())
}

func TestRestaurantsOfflineAfterOneFetch(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, restaurants, jsonResponder(200, listJSON))

	w := serve(f, http.MethodGet, restaurants)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SourceNetwork, w.Header().Get(SourceHeader))
	assert.JSONEq(t, listJSON, w.Body.String())
	f.i.Wait()

	f.transport.RegisterResponder(http.MethodGet, restaurants, offline())
	w = serve(f, http.MethodGet, restaurants)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SourceStore, w.Header().Get(SourceHeader))
	assert.Equal(t, listJSON, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	f.i.Wait()

	f.observed.mu.Lock()
	defer f.observed.mu.Unlock()
	require.Len(t, f.observed.errs, 2)
	assert.NoError(t, f.observed.errs[0])
	assert.ErrorIs(t, f.observed.errs[1], errs.ErrNetwork)
}

func TestStoredResponseIsRevalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.api.Put(ctx, restaurants, "application/json", []byte(`[{"id":1}]`))
	require.NoError(t, err)
	f.transport.RegisterResponder(http.MethodGet, restaurants, jsonResponder(200, listJSON))

	w := serve(f, http.MethodGet, restaurants)
	assert.Equal(t, SourceStore, w.Header().Get(SourceHeader))
	assert.Equal(t, `[{"id":1}]`, w.Body.String())

	f.i.Wait()
	entry, err := f.api.Get(ctx, restaurants)
	require.NoError(t, err)
	assert.JSONEq(t, listJSON, string(entry.Body))
	assert.Equal(t, 1, f.transport.GetTotalCallCount())
}

func TestOnlyValidJSONIsStored(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		status    int
	}{
		{"html", httpmock.NewStringResponder(200, "<html></html>"), 200},
		{"invalid json", jsonResponder(200, `{"id":`), 200},
		{"server error", jsonResponder(500, `{"error":"boom"}`), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.transport.RegisterResponder(http.MethodGet, restaurants, tt.responder)

			w := serve(f, http.MethodGet, restaurants)
			assert.Equal(t, tt.status, w.Code, "response is relayed")
			f.i.Wait()

			_, err := f.api.Get(context.Background(), restaurants)
			assert.ErrorIs(t, err, apistore.ErrNotFound)
		})
	}
}

func TestJSONContentTypeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, restaurants, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, listJSON)
		resp.Header.Set("Content-Type", "Application/JSON")
		return resp, nil
	})

	serve(f, http.MethodGet, restaurants)
	f.i.Wait()
	_, err := f.api.Get(context.Background(), restaurants)
	assert.NoError(t, err)
}

func TestNothingAvailableIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, restaurants, offline())
	f.transport.RegisterResponder(http.MethodGet, origin+"/index.html", offline())

	assert.Equal(t, http.StatusBadGateway, serve(f, http.MethodGet, restaurants).Code)
	assert.Equal(t, http.StatusBadGateway, serve(f, http.MethodGet, "/index.html").Code)
}

func TestCacheFirst(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, origin+"/css/styles.css", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, "body{margin:0}")
		resp.Header.Set("Content-Type", "text/css")
		return resp, nil
	})

	w := serve(f, http.MethodGet, "/css/styles.css")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SourceNetwork, w.Header().Get(SourceHeader))
	assert.Equal(t, "body{margin:0}", w.Body.String())

	f.transport.RegisterResponder(http.MethodGet, origin+"/css/styles.css", offline())
	w = serve(f, http.MethodGet, "/css/styles.css")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SourceCache, w.Header().Get(SourceHeader))
	assert.Equal(t, "body{margin:0}", w.Body.String())
	assert.Equal(t, "text/css", w.Header().Get("Content-Type"))
	assert.Equal(t, 1, f.transport.GetTotalCallCount(), "hit makes no network call")
}

func TestCacheFirstDoesNotStoreErrorsOrWrites(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, origin+"/missing.html", httpmock.NewStringResponder(404, "nope"))
	f.transport.RegisterResponder(http.MethodPost, "http://api.test:1337/reviews/", jsonResponder(201, `{"id":9}`))

	assert.Equal(t, http.StatusNotFound, serve(f, http.MethodGet, "/missing.html").Code)
	assert.Equal(t, http.StatusNotFound, serve(f, http.MethodGet, "/missing.html").Code)
	assert.Equal(t, 2, f.transport.GetCallCountInfo()["GET "+origin+"/missing.html"])

	r := httptest.NewRequest(http.MethodPost, "http://api.test:1337/reviews/", strings.NewReader(`{"name":"A"}`))
	w := httptest.NewRecorder()
	f.i.ServeHTTP(w, r)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, SourceNetwork, w.Header().Get(SourceHeader))

	req, _ := http.NewRequest(http.MethodGet, "http://api.test:1337/reviews/", nil)
	cached, err := f.static.Match(req)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestConnectRejected(t *testing.T) {
	f := newFixture(t)
	r := httptest.NewRequest(http.MethodConnect, "api.test:443", nil)
	w := httptest.NewRecorder()
	f.i.ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCacheFirstStoresUnencodedBodies(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, origin+"/js/main.js", func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Accept-Encoding") != "" {
			resp := httpmock.NewBytesResponse(200, []byte{0x1f, 0x8b})
			resp.Header.Set("Content-Encoding", "gzip")
			return resp, nil
		}
		return httpmock.NewStringResponse(200, "console.log(1)"), nil
	})

	r := httptest.NewRequest(http.MethodGet, "/js/main.js", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	f.i.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))

	w = serve(f, http.MethodGet, "/js/main.js")
	assert.Equal(t, SourceCache, w.Header().Get(SourceHeader))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "console.log(1)", w.Body.String())
}

// unsetEnv clears keys for the test and restores them afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, v) })
		}
		_ = os.Unsetenv(key)
	}
}

func TestDefaultConfigRevalidatesAPI(t *testing.T) {
	unsetEnv(t, "UPSTREAM_URL", "API_BASE_URL", "LOCAL_API_HOST", "STATIC_CACHE", "CACHE_PREFIX",
		"STORE_DRIVER", "PENDING_POLICY", "FETCH_TIMEOUT", "PROBE_INTERVAL", "LOG_LEVEL")
	cfg, err := config.Load()
	require.NoError(t, err)

	upstream, err := url.Parse(cfg.UpstreamURL)
	require.NoError(t, err)
	static, err := assets.NewStorage("").Open(cfg.StaticCache)
	require.NoError(t, err)
	api := apistore.New(store.NewHandle(store.NewMemoryBackend(), store.RestaurantStore))
	mt := httpmock.NewMockTransport()
	i := New(Options{
		Upstream:     upstream,
		LocalAPIHost: cfg.LocalAPIHost,
		Client:       &http.Client{Transport: mt},
		Static:       static,
		API:          api,
		FetchTimeout: time.Second,
		Log:          zerolog.Nop(),
	})
	t.Cleanup(i.Wait)

	list := restapi.New(restapi.WithBaseURL(cfg.APIBaseURL)).URL("/restaurants", nil)
	target, err := url.Parse(list)
	require.NoError(t, err)
	require.Equal(t, StaleWhileRevalidate, i.Route(http.MethodGet, target))

	mt.RegisterResponder(http.MethodGet, list, jsonResponder(200, `["v1"]`))
	w := httptest.NewRecorder()
	i.ServeHTTP(w, httptest.NewRequest(http.MethodGet, list, nil))
	assert.Equal(t, SourceNetwork, w.Header().Get(SourceHeader))
	i.Wait()

	mt.RegisterResponder(http.MethodGet, list, jsonResponder(200, `["v2"]`))
	w = httptest.NewRecorder()
	i.ServeHTTP(w, httptest.NewRequest(http.MethodGet, list, nil))
	assert.Equal(t, SourceStore, w.Header().Get(SourceHeader))
	assert.Equal(t, `["v1"]`, w.Body.String())
	i.Wait()

	entry, err := api.Get(context.Background(), list)
	require.NoError(t, err)
	assert.JSONEq(t, `["v2"]`, string(entry.Body))
	assert.Equal(t, 2, mt.GetTotalCallCount())
}
