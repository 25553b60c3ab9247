package refresher

import (
	"context"
	"log/slog"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

// Scheduler ticks on an interval and refreshes every near-expiry credential
// of every registered provider kind, serially per kind — mirroring the
// teacher's HealthChecker ticker+done-channel idiom (internal/proxy/healthchecker.go)
// generalized from "probe all providers" to "refresh all credentials".
type Scheduler struct {
	refresher *Refresher
	manager   *credential.Manager
	interval  time.Duration
	log       *slog.Logger

	done chan struct{}
}

// NewScheduler creates a Scheduler. interval defaults to 15 minutes, the
// teacher's own default probe cadence.
func NewScheduler(r *Refresher, m *credential.Manager, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{refresher: r, manager: m, interval: interval, log: log, done: make(chan struct{})}
}

// Run blocks until ctx is cancelled, ticking every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// Stop signals Run to return without waiting for ctx cancellation.
func (s *Scheduler) Stop() {
	close(s.done)
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	for _, kind := range s.manager.AllKinds() {
		for _, c := range s.manager.All(kind) {
			if err := s.refresher.Refresh(ctx, c); err != nil {
				s.log.Warn("scheduled_refresh_failed",
					slog.String("uuid", c.UUID),
					slog.String("provider_kind", kind),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
