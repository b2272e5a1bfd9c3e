package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/config"
	"github.com/briangreenhill/offlinesw/internal/jobs"
	"github.com/briangreenhill/offlinesw/internal/metrics"
	"github.com/briangreenhill/offlinesw/internal/pending"
	"github.com/briangreenhill/offlinesw/internal/replay"
	"github.com/briangreenhill/offlinesw/internal/restapi"
	"github.com/briangreenhill/offlinesw/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("process", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger = logger.Level(cfg.Level())
	if !cfg.HasRedis() {
		logger.Fatal().Msg("REDIS_ADDR is required for the replay worker")
	}
	if cfg.StoreDriver == store.DriverMemory {
		logger.Fatal().Msg("STORE_DRIVER=memory cannot be shared with the proxy")
	}

	backend, err := store.NewBackend(cfg.StoreDriver, cfg.StoreOptions())
	if err != nil {
		logger.Fatal().Err(err).Msg("store backend")
	}
	defer backend.Close()
	policy, _ := pending.ParsePolicy(cfg.PendingPolicy)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	api := restapi.New(
		restapi.WithBaseURL(cfg.APIBaseURL),
		restapi.WithHTTPClient(&http.Client{Transport: transport, Timeout: cfg.FetchTimeout}),
	)
	replayer := replay.New(api,
		pending.NewReviews(store.NewHandle(backend, store.ReviewStore), policy),
		pending.NewFavorites(store.NewHandle(backend, store.FavoriteStore), policy),
		logger, metrics.New(prometheus.NewRegistry()))

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:    2,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueSync: 10, // higher priority
			"default":      5,
		},
		Logger:   asynqLogger{logger.With().Str("component", "asynq").Logger()},
		LogLevel: asynq.InfoLevel,
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskReplayPending, jobs.HandleReplayPending(replayer, logger))

	// drain whatever was left pending before this worker started
	if _, err := replayer.Run(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("[sync] startup replay incomplete")
	}

	logger.Info().Msg("Worker running...")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("asynq server")
	}
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
