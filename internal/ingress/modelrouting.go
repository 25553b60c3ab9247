package ingress

import (
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/dialect"
	"github.com/nulpointcorp/llm-gateway/internal/providers"
)

// reverseChatModels lists the model identifiers that the gateway only
// serves through the reverse web-chat adapter, overriding whatever a
// direct-provider alias would otherwise say. Grounded on
// providers.ModelAliases for everything else.
var reverseChatModels = map[string]bool{}

// resolveProviderKind maps a request's model name to the credential-pool
// kind that should serve it (spec §4.6 step 2's "extract ... the model
// from the body", feeding step 4's pool lookup). It generalizes the
// teacher's resolveProvider/resolveEmbeddingProvider (internal/proxy/
// routing.go) from "provider instance" to "credential pool kind" — the
// alias table itself is the same one the teacher routes chat completions
// with, since a model name identifies the same upstream family regardless
// of which public dialect the client used to ask for it.
//
// dialectDefault is the provider kind a model falls back to when it isn't
// in the alias table: the dialect-native provider for the endpoint the
// client called (e.g. an unrecognised model posted to /v1/messages still
// goes to "anthropic", not "openai").
func resolveProviderKind(model string, dialectDefault string) string {
	if reverseChatModels[model] {
		return "reversechat"
	}
	if kind, ok := providers.ModelAliases[model]; ok {
		return kind
	}
	return dialectDefault
}

func resolveEmbeddingProviderKind(model string) string {
	if kind, ok := providers.EmbeddingModelAliases[model]; ok {
		return kind
	}
	if kind, ok := providers.ModelAliases[model]; ok {
		return kind
	}
	return "openai"
}

// defaultProviderKind is the dialectDefault resolveProviderKind falls back
// to for each endpoint family, mirroring the dialect the client addressed.
func defaultProviderKind(kind dialect.Kind) string {
	switch kind {
	case dialect.Anthropic:
		return "anthropic"
	case dialect.Gemini:
		return "gemini"
	default:
		return "openai"
	}
}

// stripGeminiModelPrefix trims the "models/" path segment Gemini-style
// paths carry (e.g. "models/gemini-1.5-pro") down to the bare model id.
func stripGeminiModelPrefix(model string) string {
	return strings.TrimPrefix(model, "models/")
}
