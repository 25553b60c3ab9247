package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	npCache "github.com/nulpointcorp/llm-gateway/internal/cache"
	"github.com/nulpointcorp/llm-gateway/internal/config"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/ingress"
	"github.com/nulpointcorp/llm-gateway/internal/logger"
	"github.com/nulpointcorp/llm-gateway/internal/metrics"
	"github.com/nulpointcorp/llm-gateway/internal/prefixcache"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/nulpointcorp/llm-gateway/internal/refresher"
	"github.com/nulpointcorp/llm-gateway/internal/store"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/adapter/anthropic"
	"github.com/nulpointcorp/llm-gateway/internal/adapter/gemini"
	"github.com/nulpointcorp/llm-gateway/internal/adapter/openai"
	"github.com/nulpointcorp/llm-gateway/internal/adapter/openaicompat"
	"github.com/nulpointcorp/llm-gateway/internal/adapter/reversechat"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// ocEntry describes one vendor routed through the generic openaicompat
// adapter: a credential-pool kind name and its default base URL. Mistral
// collapses into this list rather than keeping a separate adapter —
// it speaks the same OpenAI-compatible wire shape as the rest.
type ocEntry struct {
	kind       string
	cfg        config.ProviderConfig
	defaultURL string
}

func (a *App) ocEntries() []ocEntry {
	c := a.cfg
	return []ocEntry{
		{"mistral", c.Mistral, "https://api.mistral.ai/v1"},
		{"xai", c.XAI, "https://api.x.ai/v1"},
		{"deepseek", c.DeepSeek, "https://api.deepseek.com/v1"},
		{"groq", c.Groq, "https://api.groq.com/openai/v1"},
		{"together", c.Together, "https://api.together.xyz/v1"},
		{"perplexity", c.Perplexity, "https://api.perplexity.ai"},
		{"cerebras", c.Cerebras, "https://api.cerebras.ai/v1"},
		{"moonshot", c.Moonshot, "https://api.moonshot.cn/v1"},
		{"minimax", c.MiniMax, "https://api.minimax.chat/v1"},
		{"qwen", c.Qwen, "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"},
		{"nebius", c.Nebius, "https://api.studio.nebius.ai/v1"},
		{"novita", c.NovitaAI, "https://api.novita.ai/v3/openai"},
		{"bytedance", c.ByteDance, "https://ark.cn-beijing.volces.com/api/v3"},
		{"zai", c.ZAI, "https://api.z.ai/api/openai/v1"},
		{"canopywave", c.CanopyWave, "https://api.canopywave.com/v1"},
		{"inference", c.Inference, "https://api.inference.net/v1"},
		{"nanogpt", c.NanoGPT, "https://nano-gpt.com/api/v1"},
	}
}

// initCredentials builds the Credential Pool Manager from the persisted
// credentials document (when a path is configured) and every configured
// provider kind's comma-separated API keys. Persisted records keep their
// stored uuid; a configured key whose secret a persisted record of the same
// kind already holds is not added a second time.
func (a *App) initCredentials(_ context.Context) error {
	mgr := credential.NewManager()

	var pending []*credential.Credential
	seed := func(kind string, keys []string) {
		for _, key := range keys {
			pending = append(pending, credential.New(kind, key))
		}
	}

	seed("openai", a.cfg.OpenAI.APIKeys())
	seed("anthropic", a.cfg.Anthropic.APIKeys())
	seed("gemini", a.cfg.Gemini.APIKeys())
	for _, e := range a.ocEntries() {
		seed(e.kind, e.cfg.APIKeys())
	}

	if a.cfg.ReverseChat.Cookie != "" {
		secret, err := json.Marshal(struct {
			Cookie    string `json:"cookie"`
			UserAgent string `json:"user_agent"`
		}{a.cfg.ReverseChat.Cookie, a.cfg.ReverseChat.UserAgent})
		if err != nil {
			return fmt.Errorf("reversechat secret: %w", err)
		}
		pending = append(pending, credential.New("reversechat", string(secret)))
	}

	if a.cfg.Store.CredentialsPath != "" {
		a.credStore = store.NewCredentialStore(a.cfg.Store.CredentialsPath)
		doc, err := a.credStore.Load()
		if err != nil {
			return fmt.Errorf("credential store: %w", err)
		}
		store.Populate(mgr, doc)
	}
	for _, c := range pending {
		known := false
		for _, p := range mgr.All(c.ProviderKind) {
			known = known || p.SecretMaterial == c.SecretMaterial
		}
		if !known {
			mgr.Add(c)
		}
	}

	a.creds = mgr

	kinds := mgr.AllKinds()
	if len(kinds) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}
	a.log.Info("credential pools loaded", slog.Any("provider_kinds", kinds))

	return nil
}

// initAdapters builds the upstream adapter registry and registers any
// adapter satisfying adapter.Refreshable with a token-refresh Scheduler
// (spec §3 Lifecycle). No shipped adapter currently carries an OAuth
// token, so the scheduler starts with zero registrations, but the wiring
// is generic: it activates automatically the day one does.
func (a *App) initAdapters(_ context.Context) error {
	adapters := make(map[string]adapter.Adapter)

	addrOf := func(kind string, def, override string) string {
		if override != "" {
			return override
		}
		return def
	}

	adapters["openai"] = openai.New(addrOf("openai", "https://api.openai.com/v1", a.cfg.OpenAI.BaseURL))
	adapters["anthropic"] = anthropic.New(addrOf("anthropic", "https://api.anthropic.com/v1", a.cfg.Anthropic.BaseURL))
	adapters["gemini"] = gemini.New(addrOf("gemini", "https://generativelanguage.googleapis.com", a.cfg.Gemini.BaseURL))

	for _, e := range a.ocEntries() {
		if len(e.cfg.APIKeys()) == 0 {
			continue
		}
		adapters[e.kind] = openaicompat.New(e.kind, addrOf(e.kind, e.defaultURL, e.cfg.BaseURL))
	}

	if a.cfg.ReverseChat.Cookie != "" {
		base := a.cfg.ReverseChat.BaseURL
		adapters["reversechat"] = reversechat.New(base)
	}

	a.adapters = adapters

	a.refresh = refresher.New(a.cfg.Refresh.Skew, a.log)
	for kind, ad := range adapters {
		if ref, ok := ad.(adapter.Refreshable); ok {
			a.refresh.Register(kind, ref)
		}
	}
	a.scheduler = refresher.NewScheduler(a.refresh, a.creds, a.cfg.Refresh.Interval, a.log)

	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	a.log.Info("adapters loaded", slog.Any("adapters", names))

	return nil
}

// initServices creates the cache backend, the prefix-cache accountant, the
// request logger (with its optional analytics sink), and the Prometheus
// metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		a.cacheImpl = npCache.NewExactCacheFromClient(a.rdb)
		a.log.Info("cache backend: redis")

	case "memory":
		a.memCache = npCache.NewMemoryCache(ctx)
		a.cacheImpl = a.memCache
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.accountant = prefixcache.New(a.cacheImpl, prefixcache.NewTokenizer())

	var sink logger.Sink
	switch a.cfg.LogSink {
	case "clickhouse":
		chSink, err := logger.NewClickHouseSink(logger.ClickHouseConfig{
			Addr:     a.cfg.ClickHouse.Addr,
			Database: a.cfg.ClickHouse.Database,
			Username: a.cfg.ClickHouse.Username,
			Password: a.cfg.ClickHouse.Password,
			Table:    a.cfg.ClickHouse.Table,
		})
		if err != nil {
			return fmt.Errorf("clickhouse sink: %w", err)
		}
		sink = chSink
		a.log.Info("request log sink: clickhouse", slog.Any("addr", a.cfg.ClickHouse.Addr))
	case "slog":
		a.log.Info("request log sink: slog only")
	default:
		return fmt.Errorf("unknown log sink: %s", a.cfg.LogSink)
	}

	reqLogger, err := logger.NewWithSink(a.baseCtx, a.log, sink)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initIngress wires the ingress.Router with every configured subsystem.
func (a *App) initIngress(_ context.Context) error {
	opts := ingress.Options{
		Logger:          a.log,
		Adapters:        a.adapters,
		Credentials:     a.creds,
		Accountant:      a.accountant,
		Metrics:         a.prom,
		RequestLogger:   a.reqLogger,
		Cache:           a.cacheImpl,
		CacheTTL:        a.cfg.Cache.TTL,
		CORSOrigins:     a.cfg.CORSOrigins,
		APIKey:          a.cfg.GatewayAPIKey,
		MaxAttempts:     a.cfg.Failover.MaxRetries,
		ProviderTimeout: a.cfg.Failover.ProviderTimeout,
	}

	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		opts.RPMLimiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit)
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := npCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		opts.CacheExclusions = el
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	a.ig = ingress.New(a.baseCtx, opts)

	a.mgmt = &ingress.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
