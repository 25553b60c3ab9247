package ingress

import (
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-gateway/internal/dialect"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
)

// ManagementRoutes holds optional management API handlers registered
// alongside the dialect endpoints, mirroring the teacher's
// internal/proxy.ManagementRoutes.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler
}

// Start starts the HTTP server on addr without management routes, so no
// /metrics route is served; StartWithRoutes takes them.
func (r *Router) Start(addr string) error {
	return r.StartWithRoutes(addr, nil)
}

// StartWithRoutes registers every endpoint in spec §9's table behind the
// middleware chain and starts serving addr.
//
// Grounded on the teacher's internal/proxy/router.go: same
// fasthttp/router + applyMiddleware shape, generalized from three fixed
// OpenAI-only routes to the eight-endpoint, three-dialect table.
func (r *Router) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	rt := router.New()

	rt.POST("/v1/chat/completions", func(ctx *fasthttp.RequestCtx) {
		r.handleCompletion(ctx, dialect.OpenAI, "chat_completions")
	})
	rt.GET("/v1/models", func(ctx *fasthttp.RequestCtx) {
		r.handleListModels(ctx, dialect.OpenAI)
	})

	rt.POST("/v1/messages", func(ctx *fasthttp.RequestCtx) {
		r.handleCompletion(ctx, dialect.Anthropic, "messages")
	})
	rt.POST("/v1/messages/count_tokens", r.handleCountTokens)

	rt.POST("/v1beta/models/{modelAction}", r.handleGeminiModelAction)
	rt.GET("/v1beta/models", func(ctx *fasthttp.RequestCtx) {
		r.handleListModels(ctx, dialect.Gemini)
	})

	rt.GET("/health", r.handleHealth)
	rt.GET("/readiness", r.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		rt.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(rt.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(r.corsOrigins),
		securityHeaders,
		authenticate(r.apiKey),
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

// handleGeminiModelAction dispatches Gemini's "/v1beta/models/{model}:{action}"
// path shape (spec §6), where action is "generateContent" or
// "streamGenerateContent". The model segment is rewritten into the
// Unified request after translation, since the dialect-native body
// itself carries no model field.
func (r *Router) handleGeminiModelAction(ctx *fasthttp.RequestCtx) {
	seg, _ := ctx.UserValue("modelAction").(string)
	model, action, ok := strings.Cut(seg, ":")
	if !ok {
		apierr.Write(ctx, fasthttp.StatusNotFound, "unrecognised path", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	model = stripGeminiModelPrefix(model)

	switch action {
	case "generateContent":
		r.handleCompletionWithModel(ctx, dialect.Gemini, "generate_content", model, false)
	case "streamGenerateContent":
		r.handleCompletionWithModel(ctx, dialect.Gemini, "stream_generate_content", model, true)
	default:
		apierr.Write(ctx, fasthttp.StatusNotFound, "unrecognised action", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
	}
}

func (r *Router) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"status": "ok"})
}

func (r *Router) handleReadiness(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"status": "ok"})
}
