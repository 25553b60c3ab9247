// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra       — external connections (Redis when needed)
//  2. initCredentials — Credential Pool Manager, seeded and persisted
//  3. initAdapters    — upstream adapter registry, refresher scheduling
//  4. initServices    — cache, prefix-cache accountant, request logger, metrics
//  5. initIngress     — ingress router + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	npCache "github.com/nulpointcorp/llm-gateway/internal/cache"
	"github.com/nulpointcorp/llm-gateway/internal/config"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/ingress"
	"github.com/nulpointcorp/llm-gateway/internal/logger"
	"github.com/nulpointcorp/llm-gateway/internal/metrics"
	"github.com/nulpointcorp/llm-gateway/internal/prefixcache"
	"github.com/nulpointcorp/llm-gateway/internal/refresher"
	"github.com/nulpointcorp/llm-gateway/internal/store"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	reqLogger *logger.Logger
	memCache  *npCache.MemoryCache
	cacheImpl npCache.Cache

	prom *metrics.Registry

	creds      *credential.Manager
	credStore  *store.CredentialStore
	adapters   map[string]adapter.Adapter
	refresh    *refresher.Refresher
	scheduler  *refresher.Scheduler
	accountant *prefixcache.Accountant

	mgmt *ingress.ManagementRoutes
	ig   *ingress.Router
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"credentials", a.initCredentials},
		{"adapters", a.initAdapters},
		{"services", a.initServices},
		{"ingress", a.initIngress},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and the background token-refresh sweep,
// blocking until ctx is cancelled or either fails. It closes the app
// gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.Any("provider_kinds", a.creds.AllKinds()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ig.StartWithRoutes(addr, a.mgmt)
	})

	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Calling it again
// releases nothing twice (each call saves the credential store once more);
// it takes no lock, so concurrent calls from several goroutines are not
// synchronised.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
	if a.credStore != nil && a.creds != nil {
		if err := a.credStore.Save(store.Export(a.creds)); err != nil {
			a.log.Error("credential store save error", slog.String("error", err.Error()))
		}
	}
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a zero-argument probe function that PINGs rdb with a
// one-second timeout. Reuses the existing client — no new connections.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}
