package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/replay"
)

// Inline runs replays on a goroutine of the calling process. Writes left
// pending wait for the next trigger.
type Inline struct {
	runner  Runner
	timeout time.Duration
	log     zerolog.Logger

	wg sync.WaitGroup
}

func NewInline(r Runner, log zerolog.Logger) *Inline {
	return &Inline{runner: r, timeout: defaultReplayTimeout, log: log.With().Str("component", "jobs").Logger()}
}

func (s *Inline) Schedule(ctx context.Context, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		res, err := s.runner.Run(ctx)
		l := s.log.With().Str("reason", reason).Int("delivered", res.Delivered).
			Int("dropped", res.Dropped).Int("kept", res.Kept).Logger()
		switch {
		case errors.Is(err, replay.ErrIncomplete):
			l.Warn().Err(err).Msg("[sync] writes still pending")
		case err != nil:
			l.Error().Err(err).Msg("[sync] replay failed")
		default:
			l.Debug().Msg("[sync] done")
		}
	}()
	return nil
}

// Wait blocks until scheduled replays have finished.
func (s *Inline) Wait() {
	s.wg.Wait()
}
