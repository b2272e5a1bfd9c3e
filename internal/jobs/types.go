// Package jobs schedules replays of pending writes, through asynq when Redis
// is configured and in-process otherwise.
package jobs

import (
	"context"
	"time"

	"github.com/briangreenhill/offlinesw/internal/replay"
)

const (
	TaskReplayPending = "sync:replay_pending"
	QueueSync         = "sync"
)

type ReplayPendingPayload struct {
	Tag string `json:"tag"`
}

// Scheduler asks for a replay of pending writes. reason is only logged.
type Scheduler interface {
	Schedule(ctx context.Context, reason string) error
}

// Runner performs one replay.
type Runner interface {
	Run(ctx context.Context) (replay.Result, error)
}

const defaultReplayTimeout = 2 * time.Minute
