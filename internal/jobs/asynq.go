package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/errs"
	"github.com/briangreenhill/offlinesw/internal/replay"
	"github.com/briangreenhill/offlinesw/internal/restapi"
)

// NewReplayPendingTask builds the task that replays every pending write.
// Identical tasks collapse while one is still queued.
func NewReplayPendingTask() (*asynq.Task, error) {
	b, err := json.Marshal(ReplayPendingPayload{Tag: replay.SyncTag})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplayPending, b,
		asynq.Queue(QueueSync),
		asynq.MaxRetry(10),
		asynq.Timeout(defaultReplayTimeout),
		asynq.Unique(time.Minute),
	), nil
}

// Enqueuer schedules replays on asynq.
type Enqueuer struct {
	client *asynq.Client
	log    zerolog.Logger
}

func NewEnqueuer(client *asynq.Client, log zerolog.Logger) *Enqueuer {
	return &Enqueuer{client: client, log: log.With().Str("component", "jobs").Logger()}
}

func (e *Enqueuer) Schedule(ctx context.Context, reason string) error {
	task, err := NewReplayPendingTask()
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		e.log.Debug().Str("reason", reason).Msg("[sync] replay already queued")
		return nil
	case err != nil:
		return fmt.Errorf("enqueue %s: %w", TaskReplayPending, err)
	}
	e.log.Info().Str("reason", reason).Str("task_id", info.ID).Msg("[sync] replay queued")
	return nil
}

// HandleReplayPending processes TaskReplayPending. Writes still pending after
// a retryable failure make the task fail so asynq retries it with backoff.
func HandleReplayPending(r Runner, log zerolog.Logger) asynq.HandlerFunc {
	log = log.With().Str("component", "jobs").Logger()
	return func(ctx context.Context, t *asynq.Task) error {
		var p ReplayPendingPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error().Err(err).Msg("[asynq] bad payload")
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if p.Tag != replay.SyncTag {
			log.Warn().Str("tag", p.Tag).Msg("[sync] ignoring unknown tag")
			return nil
		}

		log.Info().Msg("[sync] start")
		start := time.Now()
		res, err := r.Run(ctx)
		duration := time.Since(start)
		l := log.With().Dur("duration", duration).Int("delivered", res.Delivered).
			Int("dropped", res.Dropped).Int("kept", res.Kept).Logger()
		if err != nil {
			if isRetryable(err) {
				l.Warn().Err(err).Msg("[sync] retryable error")
				return err
			}
			l.Error().Err(err).Msg("[sync] permanent error (dropping job)")
			return nil
		}
		l.Info().Msg("[sync] done")
		return nil
	}
}

// isRetryable decides whether a failed replay should run again.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, replay.ErrIncomplete):
		return true
	case errors.Is(err, errs.ErrStore), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return true
	}
	return restapi.Retryable(err)
}
