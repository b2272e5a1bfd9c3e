// Package connectivity tracks whether the upstream API is reachable and
// signals the offline to online transition.
package connectivity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/errs"
)

// Probe checks reachability; a nil error means online.
type Probe func(ctx context.Context) error

// HTTPProbe reports online when url answers with any HTTP status.
func HTTPProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return errs.Network("probe "+url, err)
		}
		resp.Body.Close()
		return nil
	}
}

type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	online      bool
	onReconnect []func()
}

// New returns a monitor that assumes it starts online.
func New(probe Probe, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		timeout:  interval / 2,
		log:      log.With().Str("component", "connectivity").Logger(),
		online:   true,
	}
}

// OnReconnect registers fn to run on every offline to online transition.
// fn runs on the goroutine that observed the transition and must not block.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	m.onReconnect = append(m.onReconnect, fn)
	m.mu.Unlock()
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Observe feeds the outcome of a real upstream request into the monitor.
// Only network failures count as offline; other errors are ignored.
func (m *Monitor) Observe(err error) {
	switch {
	case err == nil:
		m.set(true)
	case errors.Is(err, errs.ErrNetwork):
		m.set(false)
	}
}

// Check probes once and returns the resulting state.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.probe(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, errs.ErrNetwork) {
		m.log.Debug().Err(err).Msg("probe error")
	}
	online := err == nil
	m.set(online)
	return online
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	var fns []func()
	if online && !was {
		fns = append(fns, m.onReconnect...)
	}
	m.mu.Unlock()

	if was == online {
		return
	}
	if online {
		m.log.Info().Msg("back online")
	} else {
		m.log.Warn().Msg("offline")
	}
	for _, fn := range fns {
		fn()
	}
}
