package dialect

import (
	"github.com/nulpointcorp/llm-gateway/internal/dialect/anthropic"
	"github.com/nulpointcorp/llm-gateway/internal/dialect/gemini"
	"github.com/nulpointcorp/llm-gateway/internal/dialect/openai"
)

// Get is the concrete Factory (spec §9's "small factory keyed by enum").
// Each dialect's Translator is stateless, so one shared instance per kind
// is reused across every request.
func Get(kind Kind) Translator {
	switch kind {
	case OpenAI:
		return openaiTranslator
	case Anthropic:
		return anthropicTranslator
	case Gemini:
		return geminiTranslator
	default:
		return nil
	}
}

var (
	openaiTranslator    = openai.New()
	anthropicTranslator = anthropic.New()
	geminiTranslator    = gemini.New()
)
