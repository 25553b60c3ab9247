package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/dialect"
	"github.com/nulpointcorp/llm-gateway/internal/logger"
	"github.com/nulpointcorp/llm-gateway/internal/prefixcache"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
)

// handleCompletion implements spec §4.6 steps 2-7 for one dialect endpoint.
// route is the metrics/log label (e.g. "chat_completions", "messages").
func (r *Router) handleCompletion(ctx *fasthttp.RequestCtx, kind dialect.Kind, route string) {
	r.handleCompletionWithModel(ctx, kind, route, "", false)
}

// handleCompletionWithModel is handleCompletion generalized for Gemini's
// path-based model/action shape (spec §6): model, when non-empty,
// overrides whatever the wire body carried, and forceStream pins
// Request.Stream for the streamGenerateContent action since that dialect
// signals streaming via the path, not a body field.
func (r *Router) handleCompletionWithModel(ctx *fasthttp.RequestCtx, kind dialect.Kind, route, model string, forceStream bool) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)

	if r.metrics != nil {
		r.metrics.IncInFlight()
	}

	tr := dialect.Get(kind)
	req, err := tr.RequestToUnified(ctx.PostBody())
	if err != nil {
		r.finishNonStream(ctx, fasthttp.StatusBadRequest, start, route, "")
		apierr.Write(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if model != "" {
		req.Model = model
	}
	if forceStream {
		req.Stream = true
	}
	if req.Model == "" {
		r.finishNonStream(ctx, fasthttp.StatusBadRequest, start, route, "")
		apierr.Write(ctx, fasthttp.StatusBadRequest, "field 'model' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	if r.rpm != nil {
		allowed, err := r.rpm.Allow(ctx)
		if err == nil && !allowed {
			if r.metrics != nil {
				r.metrics.RecordRateLimit("blocked")
			}
			r.finishNonStream(ctx, fasthttp.StatusTooManyRequests, start, route, "")
			apierr.WriteRateLimit(ctx)
			return
		}
	}

	providerKind := resolveProviderKind(req.Model, defaultProviderKind(kind))

	r.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.String("provider_kind", providerKind),
		slog.Bool("stream", req.Stream),
	)

	var cacheUsage *unified.Usage
	if kind == dialect.Anthropic && r.accts != nil && req.UserID != "" {
		u := r.accts.Account(ctx, prefixcache.SessionID(req.UserID), req)
		cacheUsage = &u
	}

	// Response cache lookup — non-streaming only, skip excluded models
	// (grounded on the teacher's cacheEligible gate in gateway.go).
	respCacheEligible := !req.Stream && r.cache != nil && !r.cacheExclusions.Matches(req.Model)
	var respCacheKey string
	if respCacheEligible {
		respCacheKey = responseCacheKey(req)
		if cached, ok := r.cache.Get(ctx, respCacheKey); ok {
			ctx.Response.Header.Set("X-Cache", "HIT")
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(cached)
			r.logCompletion(reqID, providerKind, req.Model, 0, 0, time.Since(start), fasthttp.StatusOK, true)
			if r.metrics != nil {
				r.metrics.CacheGetHit()
				dur := time.Since(start)
				r.metrics.DecInFlight()
				r.metrics.ObserveHTTP(route, fasthttp.StatusOK, dur, len(ctx.PostBody()), len(cached))
				r.metrics.ObserveGatewayRequest(providerKind, route, "hit", dur)
			}
			return
		}
		if r.metrics != nil {
			r.metrics.CacheGetMiss()
		}
	} else if r.metrics != nil && r.cache != nil {
		r.metrics.CacheGetBypass()
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		sel, err := r.creds.Select(providerKind, req.Model, credential.SelectOptions{AcquireSlot: true})
		if err != nil {
			r.finishNonStream(ctx, fasthttp.StatusServiceUnavailable, start, route, providerKind)
			apierr.WriteNoHealthyProvider(ctx, providerKind)
			return
		}

		ad, ok := r.adapters[sel.ActualProvider]
		if !ok {
			sel.Credential.ReleaseSlot()
			r.finishNonStream(ctx, fasthttp.StatusInternalServerError, start, route, providerKind)
			apierr.Write(ctx, fasthttp.StatusInternalServerError,
				fmt.Sprintf("no adapter registered for provider kind %q", sel.ActualProvider),
				apierr.TypeServerError, apierr.CodeInternalError)
			return
		}

		if req.Stream {
			// Derived from the request's own connection, not r.baseCtx (the
			// process lifetime context): a client disconnect must cancel
			// this specific stream's upstream call without touching any
			// other in-flight request (spec §4.1 rule 5, §5 Cancellation).
			streamCtx, cancelStream := context.WithCancel(ctx)

			ch, err := ad.GenerateStream(streamCtx, sel.Credential, req)
			if err != nil {
				cancelStream()
				sel.Credential.ReleaseSlot()
				ue := classifyAdapterError(err)
				ue.Apply(sel.Credential, time.Now)
				lastErr = err
				if ue.Retryable && attempt < r.maxAttempts {
					continue
				}
				r.finishNonStream(ctx, 0, start, route, providerKind)
				writeAdapterError(ctx, err)
				return
			}
			ch = withIdleTimeout(ch, interEventTimeout, cancelStream)

			first, ok := <-ch
			if !ok {
				// Upstream closed with nothing at all: an empty successful stream.
				sel.Credential.RecordSuccess()
				r.pipeStream(ctx, tr, sel.Credential, unified.StreamEvent{Kind: unified.EventDelta, FinishReason: unified.FinishStop}, ch,
					streamLogCtx{reqID: reqID, model: req.Model, provider: providerKind, route: route, start: start, cancel: cancelStream})
				return
			}
			if first.FinishReason == unified.FinishError {
				// No bytes committed to the client yet — this is still a
				// retryable attempt, not a partially-delivered stream
				// (spec §8 scenario 6 only applies once something real
				// has been forwarded).
				cancelStream()
				ue := &credential.UpstreamError{Err: errors.New(first.Warning), Retryable: true}
				ue.Apply(sel.Credential, time.Now)
				sel.Credential.ReleaseSlot()
				lastErr = ue
				if attempt < r.maxAttempts {
					continue
				}
				r.finishNonStream(ctx, 0, start, route, providerKind)
				apierr.Write(ctx, fasthttp.StatusBadGateway, first.Warning, apierr.TypeProviderError, apierr.CodeProviderError)
				return
			}

			r.mergeCacheUsage(&first, cacheUsage)
			r.pipeStream(ctx, tr, sel.Credential, first, ch,
				streamLogCtx{reqID: reqID, model: req.Model, provider: providerKind, route: route, start: start, cancel: cancelStream})
			return
		}

		genCtx, cancel := context.WithTimeout(ctx, r.provTimeout)
		resp, err := ad.Generate(genCtx, sel.Credential, req)
		cancel()
		sel.Credential.ReleaseSlot()

		if err != nil {
			ue := classifyAdapterError(err)
			ue.Apply(sel.Credential, time.Now)
			lastErr = err
			if r.metrics != nil {
				r.metrics.RecordError(providerKind, fmt.Sprintf("http_%d", ue.StatusCode))
			}
			if ue.Retryable && attempt < r.maxAttempts {
				continue
			}
			r.finishNonStream(ctx, 0, start, route, providerKind)
			writeAdapterError(ctx, err)
			return
		}

		sel.Credential.RecordSuccess()
		if cacheUsage != nil {
			mergeUsage(&resp.Usage, *cacheUsage)
		}

		body, err := tr.UnifiedToResponse(resp)
		if err != nil {
			r.finishNonStream(ctx, fasthttp.StatusInternalServerError, start, route, providerKind)
			apierr.Write(ctx, fasthttp.StatusInternalServerError, err.Error(), apierr.TypeServerError, apierr.CodeInternalError)
			return
		}

		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(body)

		if respCacheEligible {
			ctx.Response.Header.Set("X-Cache", "MISS")
			ttl := r.cacheTTL
			if ttl <= 0 {
				ttl = defaultCacheTTL
			}
			if err := r.cache.Set(ctx, respCacheKey, body, ttl); err != nil && r.metrics != nil {
				r.metrics.CacheSetError()
			} else if r.metrics != nil {
				r.metrics.CacheSetOK()
			}
		}

		r.logCompletion(reqID, providerKind, req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(start), fasthttp.StatusOK, false)
		if r.metrics != nil {
			dur := time.Since(start)
			r.metrics.DecInFlight()
			r.metrics.ObserveHTTP(route, fasthttp.StatusOK, dur, len(ctx.PostBody()), len(body))
			r.metrics.ObserveGatewayRequest(providerKind, route, "bypass", dur)
			r.metrics.AddTokens(providerKind, route, resp.Usage.InputTokens, resp.Usage.OutputTokens, false)
		}
		return
	}

	r.finishNonStream(ctx, fasthttp.StatusServiceUnavailable, start, route, providerKind)
	if lastErr != nil {
		writeAdapterError(ctx, lastErr)
		return
	}
	apierr.WriteNoHealthyProvider(ctx, providerKind)
}

// mergeCacheUsage attaches the prefix-cache accountant's breakdown to a
// stream's terminal usage only if the adapter itself didn't already
// report cache figures (spec §4.5: "populated only for ... requests whose
// upstream doesn't itself report prompt-caching").
func (r *Router) mergeCacheUsage(ev *unified.StreamEvent, cacheUsage *unified.Usage) {
	if cacheUsage == nil {
		return
	}
	if ev.Usage == nil {
		ev.Usage = &unified.Usage{}
	}
	mergeUsage(ev.Usage, *cacheUsage)
}

func mergeUsage(dst *unified.Usage, cacheUsage unified.Usage) {
	if dst.CacheReadInputTokens == 0 && dst.CacheCreationInputTokens == 0 {
		dst.CacheReadInputTokens = cacheUsage.CacheReadInputTokens
		dst.CacheCreationInputTokens = cacheUsage.CacheCreationInputTokens
		dst.UncachedInputTokens = cacheUsage.UncachedInputTokens
	}
}

// classifyAdapterError recovers the *credential.UpstreamError an adapter
// returned, or treats an unrecognised error as retryable-but-not-
// credential-scoped, matching the teacher's isRetryable "unknown errors
// are treated as retryable" default (internal/proxy/failover.go).
func classifyAdapterError(err error) *credential.UpstreamError {
	var ue *credential.UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	return &credential.UpstreamError{Err: err, Retryable: true}
}

// writeAdapterError maps a final (non-retried) adapter error to an HTTP
// response, mirroring the teacher's handleProviderError.
func writeAdapterError(ctx *fasthttp.RequestCtx, err error) {
	var ue *credential.UpstreamError
	if errors.As(err, &ue) {
		if ue.StatusCode == 0 {
			apierr.WriteTimeout(ctx)
			return
		}
		apierr.WriteProviderError(ctx, ue.StatusCode, ue.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}

// finishNonStream records the in-flight/HTTP metrics for every exit path
// that never reaches the streaming writer (which finalizes its own
// metrics on drain).
func (r *Router) finishNonStream(ctx *fasthttp.RequestCtx, status int, start time.Time, route, providerKind string) {
	if r.metrics == nil {
		return
	}
	r.metrics.DecInFlight()
	if status == 0 {
		status = ctx.Response.StatusCode()
	}
	dur := time.Since(start)
	r.metrics.ObserveHTTP(route, status, dur, len(ctx.PostBody()), -1)
	if providerKind != "" {
		r.metrics.ObserveGatewayRequest(providerKind, route, "bypass", dur)
	}
}

// logCompletion enqueues an async request log entry, mirroring the
// teacher's Gateway.logRequest.
func (r *Router) logCompletion(reqID, provider, model string, inputTokens, outputTokens int, latency time.Duration, status int, cached bool) {
	if r.reqLogger == nil {
		return
	}
	id, err := uuid.Parse(reqID)
	if err != nil {
		id = uuid.New()
	}
	latencyMs := latency.Milliseconds()
	if latencyMs > 65535 {
		latencyMs = 65535
	}
	statusCode := status
	if statusCode > 65535 {
		statusCode = 65535
	}
	r.reqLogger.Log(logger.RequestLog{
		ID:           id,
		Provider:     provider,
		Model:        model,
		InputTokens:  uint32(inputTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    uint16(latencyMs),
		Status:       uint16(statusCode),
		Cached:       cached,
		CreatedAt:    time.Now(),
	})
}

// handleCountTokens implements the Anthropic-style POST
// /v1/messages/count_tokens endpoint (spec §6): a single attempt, no
// retry/failover — token counting has no partial-delivery concern.
func (r *Router) handleCountTokens(ctx *fasthttp.RequestCtx) {
	tr := dialect.Get(dialect.Anthropic)
	req, err := tr.RequestToUnified(ctx.PostBody())
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	providerKind := resolveProviderKind(req.Model, "anthropic")
	sel, err := r.creds.Select(providerKind, req.Model, credential.SelectOptions{SkipUsageCount: true})
	if err == nil {
		if tc, ok := r.adapters[sel.ActualProvider].(adapter.TokenCounter); ok {
			n, err := tc.CountTokens(ctx, sel.Credential, req)
			if err == nil {
				writeJSON(ctx, map[string]any{"input_tokens": n})
				return
			}
		}
	}

	// Fall back to the same approximate tokenizer the prefix-cache
	// accountant uses, over every text block in the request.
	tok := prefixcache.NewTokenizer()
	total := 0
	for _, b := range req.System {
		n, _ := tok.Count(b.Text)
		total += n
	}
	for _, m := range req.Messages {
		n, _ := tok.Count(m.PlainText())
		total += n
	}
	writeJSON(ctx, map[string]any{"input_tokens": total})
}

// handleListModels implements GET /v1/models and GET /v1beta/models (spec
// §6): aggregates ListModels across every registered credential pool,
// skipping kinds whose adapter call fails rather than failing the whole
// catalogue.
func (r *Router) handleListModels(ctx *fasthttp.RequestCtx, kind dialect.Kind) {
	seen := map[string]bool{}
	var models []string

	for _, providerKind := range r.creds.AllKinds() {
		ad, ok := r.adapters[providerKind]
		if !ok {
			continue
		}
		sel, err := r.creds.Select(providerKind, "", credential.SelectOptions{SkipUsageCount: true})
		if err != nil {
			continue
		}
		list, err := ad.ListModels(ctx, sel.Credential)
		if err != nil {
			continue
		}
		for _, m := range list {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}

	if kind == dialect.Gemini {
		out := make([]map[string]string, len(models))
		for i, m := range models {
			out[i] = map[string]string{"name": "models/" + m}
		}
		writeJSON(ctx, map[string]any{"models": out})
		return
	}

	out := make([]map[string]any, len(models))
	for i, m := range models {
		out[i] = map[string]any{"id": m, "object": "model"}
	}
	writeJSON(ctx, map[string]any{"object": "list", "data": out})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
