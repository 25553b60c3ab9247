package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Initializer is implemented by adapters that need a boot-time warmup call
// (spec §4.2 Warmup). Failures downgrade health but never abort startup.
type Initializer interface {
	Init(ctx context.Context) error
}

// Warmup runs Init on every (kind, credential) pair bound to an
// Initializer, bounded to maxParallel concurrent calls, exactly mirroring
// the teacher's HealthChecker.probe() bounded-fan-out shape generalized
// from "one goroutine per provider" to "one goroutine per credential".
func Warmup(ctx context.Context, m *Manager, initFor func(kind string) Initializer, maxParallel int, log *slog.Logger) {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for _, kind := range m.AllKinds() {
		init := initFor(kind)
		if init == nil {
			continue
		}
		for _, c := range m.All(kind) {
			c := c
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := init.Init(ctx); err != nil {
					if log != nil {
						log.Warn("credential_warmup_failed",
							slog.String("uuid", c.UUID),
							slog.String("provider_kind", c.ProviderKind),
							slog.String("error", err.Error()),
						)
					}
					c.RecordFailure(time.Now(), err.Error(), false)
				}
			}()
		}
	}

	wg.Wait()
}
