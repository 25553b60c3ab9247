// Package ingress implements the Ingress + Router of spec §4.6: the public
// HTTP surface that authenticates a request, extracts its dialect and
// model, translates to Unified form, acquires a credential from the pool,
// invokes the matching upstream adapter, and streams or returns the
// translated result — retrying across credentials on a retryable failure.
//
// Grounded on the teacher's internal/proxy package (router.go, gateway.go,
// middleware.go, routing.go, failover.go): the fasthttp + fasthttp/router
// transport, the middleware chain shape, and the retry-across-candidates
// loop all keep their teacher idiom, re-targeted from "provider instance"
// to "credential, possibly crossing provider kinds via the pool's fallback
// chain" per spec §4.2/§4.6.
package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/cache"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/logger"
	"github.com/nulpointcorp/llm-gateway/internal/metrics"
	"github.com/nulpointcorp/llm-gateway/internal/prefixcache"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
)

const (
	defaultMaxAttempts     = 3
	defaultProviderTimeout = 120 * time.Second
	defaultCacheTTL        = 300 * time.Second
)

// Options configures a Router. Optional dependencies are nil-safe, the
// same convention the teacher's Gateway uses.
type Options struct {
	Logger *slog.Logger

	// Adapters is the registry of upstream adapters keyed by the
	// credential.Credential.ProviderKind they serve.
	Adapters map[string]adapter.Adapter

	Credentials *credential.Manager
	Accountant  *prefixcache.Accountant

	Metrics         *metrics.Registry
	RequestLogger   *logger.Logger
	Cache           cache.Cache
	CacheExclusions *cache.ExclusionList
	CacheTTL        time.Duration
	RPMLimiter      *ratelimit.RPMLimiter

	CORSOrigins []string

	// APIKey is the shared gateway bearer key (spec §4.6 step 1). Empty
	// disables authentication.
	APIKey string

	// MaxAttempts bounds retries across credentials (spec §7, default 3).
	MaxAttempts int

	// ProviderTimeout bounds a single non-streaming adapter call.
	ProviderTimeout time.Duration
}

// Router is the ingress surface: the fasthttp handler tree plus everything
// a request needs to be authenticated, translated, dispatched, and
// streamed back.
type Router struct {
	baseCtx context.Context
	log     *slog.Logger

	adapters map[string]adapter.Adapter
	creds    *credential.Manager
	accts    *prefixcache.Accountant

	metrics         *metrics.Registry
	reqLogger       *logger.Logger
	cache           cache.Cache
	cacheExclusions *cache.ExclusionList
	cacheTTL        time.Duration
	rpm             *ratelimit.RPMLimiter

	corsOrigins []string
	apiKey      string
	maxAttempts int
	provTimeout time.Duration
}

// New builds a Router. baseCtx is the process lifetime context; it never
// derives from a single client connection, so it is kept only for
// background wiring and never threaded into a per-request adapter call —
// those derive from the request's own *fasthttp.RequestCtx instead, so a
// client disconnect cancels its own upstream call without touching any
// other in-flight request (mirrors the teacher's Gateway.baseCtx for
// everything except that one distinction).
func New(baseCtx context.Context, opts Options) *Router {
	if baseCtx == nil {
		panic("ingress: context must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	provTimeout := opts.ProviderTimeout
	if provTimeout <= 0 {
		provTimeout = defaultProviderTimeout
	}
	return &Router{
		baseCtx:         baseCtx,
		log:             log,
		adapters:        opts.Adapters,
		creds:           opts.Credentials,
		accts:           opts.Accountant,
		metrics:         opts.Metrics,
		reqLogger:       opts.RequestLogger,
		cache:           opts.Cache,
		cacheExclusions: opts.CacheExclusions,
		cacheTTL:        opts.CacheTTL,
		rpm:             opts.RPMLimiter,
		corsOrigins:     opts.CORSOrigins,
		apiKey:          opts.APIKey,
		maxAttempts:     maxAttempts,
		provTimeout:     provTimeout,
	}
}
