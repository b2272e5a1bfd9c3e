// Package metrics exposes Prometheus collectors for the offline layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offlinesw"

type Metrics struct {
	staticCache   *prometheus.CounterVec
	apiStore      *prometheus.CounterVec
	upstream      *prometheus.CounterVec
	pendingWrites *prometheus.CounterVec
	replays       *prometheus.CounterVec
	cachesDeleted prometheus.Counter
	httpRequests  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		staticCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_cache_total",
			Help:      "Cache-first lookups by result (hit, miss, stored, store_error).",
		}, []string{"result"}),
		apiStore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_store_total",
			Help:      "Stale-while-revalidate outcomes (served_stale, miss, refreshed, parse_error, store_error).",
		}, []string{"result"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_total",
			Help:      "Network fetches by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		pendingWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_writes_total",
			Help:      "Worker messages by kind and outcome (accepted, rejected).",
		}, []string{"kind", "outcome"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_total",
			Help:      "Replayed pending writes by kind and outcome (sent, dropped, failed).",
		}, []string{"kind", "outcome"}),
		cachesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caches_deleted_total",
			Help:      "Stale cache generations removed at activation.",
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Proxy and control request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.staticCache, m.apiStore, m.upstream, m.pendingWrites, m.replays, m.cachesDeleted, m.httpRequests)
	}
	return m
}

func (m *Metrics) StaticCache(result string) {
	if m == nil {
		return
	}
	m.staticCache.WithLabelValues(result).Inc()
}

func (m *Metrics) APIStore(result string) {
	if m == nil {
		return
	}
	m.apiStore.WithLabelValues(result).Inc()
}

func (m *Metrics) Upstream(strategy string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstream.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) PendingWrite(kind string, accepted bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	m.pendingWrites.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Replay(kind, outcome string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) CachesDeleted(n int) {
	if m == nil {
		return
	}
	m.cachesDeleted.Add(float64(n))
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
