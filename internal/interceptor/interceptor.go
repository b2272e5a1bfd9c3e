// Package interceptor answers proxied requests from the static asset cache,
// the API response store or the network.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/apistore"
	"github.com/briangreenhill/offlinesw/internal/assets"
	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/metrics"
)

// SourceHeader names where a response came from: cache, store or network.
const SourceHeader = "X-Offline-Source"

const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceNetwork = "network"
)

const maxBody = 32 << 20

// Strategy is the caching strategy chosen for a request.
type Strategy int

const (
	CacheFirst Strategy = iota
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	if s == StaleWhileRevalidate {
		return "stale_while_revalidate"
	}
	return "cache_first"
}

// Observer is told the outcome of every upstream fetch.
type Observer interface {
	Observe(err error)
}

type Options struct {
	// Upstream resolves origin-form requests.
	Upstream *url.URL
	// LocalAPIHost is the host whose GETs stay on the cache-first path.
	LocalAPIHost string
	Client       *http.Client
	Static       *assets.Cache
	API          *apistore.Store
	FetchTimeout time.Duration
	Observer     Observer
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
}

type Interceptor struct {
	upstream  *url.URL
	localHost string
	client    *http.Client
	static    *assets.Cache
	api       *apistore.Store
	timeout   time.Duration
	observer  Observer
	metrics   *metrics.Metrics
	log       zerolog.Logger

	wg sync.WaitGroup
}

func New(opts Options) *Interceptor {
	i := &Interceptor{
		upstream:  opts.Upstream,
		localHost: opts.LocalAPIHost,
		client:    opts.Client,
		static:    opts.Static,
		api:       opts.API,
		timeout:   opts.FetchTimeout,
		observer:  opts.Observer,
		metrics:   opts.Metrics,
		log:       opts.Log.With().Str("component", "interceptor").Logger(),
	}
	if i.localHost == "" {
		i.localHost = "localhost"
	}
	if i.client == nil {
		i.client = http.DefaultClient
	}
	if i.timeout <= 0 {
		i.timeout = 30 * time.Second
	}
	return i
}

// Target returns the absolute URL a request addresses.
func (i *Interceptor) Target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	if i.upstream == nil {
		return &url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	}
	return i.upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
}

// Route picks the strategy for a request to target.
func (i *Interceptor) Route(method string, target *url.URL) Strategy {
	if method == http.MethodGet && !strings.EqualFold(target.Hostname(), i.localHost) {
		return StaleWhileRevalidate
	}
	return CacheFirst
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT not supported", http.StatusMethodNotAllowed)
		return
	}
	target := i.Target(r)
	switch i.Route(r.Method, target) {
	case StaleWhileRevalidate:
		i.staleWhileRevalidate(w, r, target)
	default:
		i.cacheFirst(w, r, target)
	}
}

// Wait blocks until background revalidations have finished.
func (i *Interceptor) Wait() {
	i.wg.Wait()
}

type fetched struct {
	status int
	header http.Header
	body   []byte
	err    error
}

func (i *Interceptor) staleWhileRevalidate(w http.ResponseWriter, r *http.Request, target *url.URL) {
	key := target.String()
	results := make(chan fetched, 1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), i.timeout)
	header := r.Header.Clone()
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer cancel()
		results <- i.revalidate(ctx, key, header)
	}()

	entry, err := i.api.Get(r.Context(), key)
	switch {
	case err == nil:
		i.metrics.APIStore("hit")
		w.Header().Set("Content-Type", entry.ContentType)
		w.Header().Set(SourceHeader, SourceStore)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(entry.Body)
		return
	case errors.Is(err, apistore.ErrNotFound):
		i.metrics.APIStore("miss")
	default:
		i.metrics.APIStore("error")
		i.log.Error().Err(err).Str("url", key).Msg("read api store")
	}

	var res fetched
	select {
	case res = <-results:
	case <-r.Context().Done():
		return
	}
	if res.err != nil {
		i.badGateway(w, key, res.err)
		return
	}
	copyHeader(w.Header(), res.header)
	w.Header().Del("Content-Length")
	w.Header().Set(SourceHeader, SourceNetwork)
	w.WriteHeader(res.status)
	_, _ = w.Write(res.body)
}

// revalidate fetches key and refreshes the store entry on a JSON 2xx answer.
func (i *Interceptor) revalidate(ctx context.Context, key string, header http.Header) fetched {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return fetched{err: err}
	}
	copyHeader(req.Header, header)
	// let the transport negotiate compression so stored bodies are plain JSON
	req.Header.Del("Accept-Encoding")

	resp, err := i.do(req, StaleWhileRevalidate)
	if err != nil {
		return fetched{err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		err = errs.Network("read "+key, err)
		i.observe(err)
		return fetched{err: err}
	}

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 && isJSON(ct) {
		if _, err := i.api.Put(ctx, key, ct, body); err != nil {
			i.log.Error().Err(err).Str("url", key).Str("kind", errs.Kind(err)).Msg("store api response")
		}
	}
	return fetched{status: resp.StatusCode, header: resp.Header, body: body}
}

func (i *Interceptor) cacheFirst(w http.ResponseWriter, r *http.Request, target *url.URL) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	copyHeader(req.Header, r.Header)
	// cached bodies are replayed to any client, so keep them unencoded
	req.Header.Del("Accept-Encoding")
	req.ContentLength = r.ContentLength

	if i.static != nil {
		cached, err := i.static.Match(req)
		if err != nil {
			i.log.Error().Err(err).Str("url", req.URL.String()).Msg("read static cache")
		}
		if cached != nil {
			defer cached.Body.Close()
			i.metrics.StaticCache("hit")
			i.relay(w, cached, SourceCache)
			return
		}
		i.metrics.StaticCache("miss")
	}

	resp, err := i.do(req, CacheFirst)
	if err != nil {
		i.badGateway(w, req.URL.String(), err)
		return
	}
	defer resp.Body.Close()

	if i.static != nil {
		if err := i.static.Put(req, resp); err != nil && !errors.Is(err, assets.ErrNotCacheable) {
			i.log.Warn().Err(err).Str("url", req.URL.String()).Msg("caching failed")
		}
	}
	i.relay(w, resp, SourceNetwork)
}

func (i *Interceptor) do(req *http.Request, s Strategy) (*http.Response, error) {
	resp, err := i.client.Do(req)
	if err != nil {
		err = errs.Network(req.Method+" "+req.URL.String(), err)
	}
	i.metrics.Upstream(s.String(), err)
	i.observe(err)
	return resp, err
}

func (i *Interceptor) observe(err error) {
	if i.observer != nil {
		i.observer.Observe(err)
	}
}

func (i *Interceptor) relay(w http.ResponseWriter, resp *http.Response, source string) {
	copyHeader(w.Header(), resp.Header)
	w.Header().Set(SourceHeader, source)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (i *Interceptor) badGateway(w http.ResponseWriter, target string, err error) {
	i.log.Warn().Err(err).Str("url", target).Msg("no cached response and network failed")
	http.Error(w, fmt.Sprintf("offline: %s unavailable", target), http.StatusBadGateway)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mt == "application/json"
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
