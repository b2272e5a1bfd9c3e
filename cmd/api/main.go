// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/offlinesw/internal/apistore"
	"github.com/briangreenhill/offlinesw/internal/assets"
	"github.com/briangreenhill/offlinesw/internal/config"
	"github.com/briangreenhill/offlinesw/internal/connectivity"
	"github.com/briangreenhill/offlinesw/internal/http/routes"
	"github.com/briangreenhill/offlinesw/internal/interceptor"
	"github.com/briangreenhill/offlinesw/internal/jobs"
	"github.com/briangreenhill/offlinesw/internal/metrics"
	"github.com/briangreenhill/offlinesw/internal/pending"
	"github.com/briangreenhill/offlinesw/internal/replay"
	"github.com/briangreenhill/offlinesw/internal/restapi"
	"github.com/briangreenhill/offlinesw/internal/worker"
	"github.com/briangreenhill/offlinesw/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger = logger.Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	backend, err := store.NewBackend(cfg.StoreDriver, cfg.StoreOptions())
	if err != nil {
		logger.Fatal().Err(err).Msg("store backend")
	}
	defer backend.Close()
	policy, _ := pending.ParsePolicy(cfg.PendingPolicy)
	reviews := pending.NewReviews(store.NewHandle(backend, store.ReviewStore), policy)
	favorites := pending.NewFavorites(store.NewHandle(backend, store.FavoriteStore), policy)
	responses := apistore.New(store.NewHandle(backend, store.RestaurantStore))

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Upstream client; never routed through an environment proxy, which may be us
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	client := &http.Client{Transport: transport, Timeout: cfg.FetchTimeout}

	// Sync scheduling
	api := restapi.New(restapi.WithBaseURL(cfg.APIBaseURL), restapi.WithHTTPClient(client))
	replayer := replay.New(api, reviews, favorites, logger, m)
	var sched jobs.Scheduler
	if cfg.HasRedis() {
		ac := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer ac.Close()
		sched = jobs.NewEnqueuer(ac, logger)
	} else {
		inline := jobs.NewInline(replayer, logger)
		defer inline.Wait()
		sched = inline
		logger.Info().Msg("REDIS_ADDR not set, replaying pending writes in-process")
	}

	monitor := connectivity.New(connectivity.HTTPProbe(client, api.URL("/restaurants", nil)), cfg.ProbeInterval, logger)

	// Static caches
	cacheDir := filepath.Join(cfg.DataDir, "caches")
	if cfg.StoreDriver == store.DriverMemory {
		cacheDir = ""
	}
	storage := assets.NewStorage(cacheDir)
	static, err := storage.Open(cfg.StaticCache)
	if err != nil {
		logger.Fatal().Err(err).Msg("open static cache")
	}
	upstream, _ := url.Parse(cfg.UpstreamURL)
	manifest, err := assets.Resolve(upstream, cfg.Manifest())
	if err != nil {
		logger.Fatal().Err(err).Msg("static manifest")
	}

	fetch := interceptor.New(interceptor.Options{
		Upstream:     upstream,
		LocalAPIHost: cfg.LocalAPIHost,
		Client:       client,
		Static:       static,
		API:          responses,
		FetchTimeout: cfg.FetchTimeout,
		Observer:     monitor,
		Metrics:      m,
		Log:          logger,
	})
	defer fetch.Wait()

	w := worker.New(worker.Deps{
		Assets:      storage,
		StaticCache: cfg.StaticCache,
		CachePrefix: cfg.CachePrefix,
		Manifest:    manifest,
		Client:      client,
		Fetch:       fetch,
		Reviews:     reviews,
		Favorites:   favorites,
		Sync:        sched,
		Metrics:     m,
		Log:         logger,
	})
	monitor.OnReconnect(w.Reconnected)

	// Lifecycle: a failed install leaves the previous generation in place.
	if _, err := w.Install(ctx); err != nil {
		logger.Warn().Err(err).Msg("install failed, serving what is cached")
	} else if _, err := w.Activate(ctx); err != nil {
		logger.Error().Err(err).Msg("activate")
	}

	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("connectivity monitor stopped")
		}
	}()

	// Router / server
	s := routes.New(routes.ServerOptions{Worker: w, Metrics: m, Gatherer: reg})
	h := hlog.NewHandler(logger)(
		hlog.RequestIDHandler("req_id", "X-Request-Id")(
			hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Stringer("url", r.URL).
					Int("status", status).
					Int("size", size).
					Dur("duration", d).
					Msg("request")
			})(s.Handler())))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}

	logger.Info().Str("port", cfg.Port).Str("upstream", cfg.UpstreamURL).Str("api", cfg.APIBaseURL).
		Str("store", cfg.StoreDriver).Msg("starting offline proxy")
	if err := serve(ctx, srv, ln, 10*time.Second); err != nil {
		logger.Error().Err(err).Msg("serve")
	}
}

// serve runs srv on ln until ctx is done, then returns once in-flight
// handlers have drained or grace has passed.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
