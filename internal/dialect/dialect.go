// Package dialect implements the Dialect Translator (spec §4.1): bidirectional
// conversion between each public wire dialect and the internal Unified form,
// including streaming. Concretely this is the capability-set + factory
// re-architecture the spec calls for in §9, replacing the source's
// inheritance-based base converter: each dialect package implements
// Translator, and Get dispatches on the small Kind enum below. No runtime
// polymorphism beyond that dispatch is needed.
package dialect

import (
	"github.com/nulpointcorp/llm-gateway/internal/dialect/framing"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// Kind identifies one of the three public wire dialects.
type Kind string

const (
	OpenAI    Kind = "openai"
	Anthropic Kind = "anthropic"
	Gemini    Kind = "gemini"
)

// Translator is the capability set every dialect package implements (spec §9
// re-architecture note): request/response/stream-delta conversion in both
// directions. A dialect that can't represent some Unified feature drops it
// rather than erroring outright; no warning event or other record of the
// dropped content is produced.
type Translator interface {
	// RequestToUnified decodes a dialect-native request body into Unified form.
	RequestToUnified(body []byte) (*unified.Request, error)
	// UnifiedToRequest encodes a Unified request into this dialect's wire body,
	// e.g. for passthrough or cross-dialect forwarding.
	UnifiedToRequest(req *unified.Request) ([]byte, error)

	// ResponseToUnified decodes a dialect-native terminal response body.
	ResponseToUnified(body []byte) (*unified.Response, error)
	// UnifiedToResponse encodes a terminal Unified response into this
	// dialect's wire body, for returning to a client that spoke this dialect.
	UnifiedToResponse(resp *unified.Response) ([]byte, error)

	// StreamEncoder returns a fresh per-stream encoder that turns Unified
	// StreamEvents into this dialect's SSE/NDJSON frames. Per-stream state
	// (coalescing buffers, tool-call index bookkeeping) lives on the
	// returned value, not on the Translator, so concurrent streams never
	// share mutable state (spec §5).
	StreamEncoder() StreamEncoder
}

// StreamEncoder accumulates the per-stream state needed to translate a
// sequence of Unified StreamEvents into dialect-native wire frames (spec
// §4.1 streaming rules 1-4: synthetic role delta, text coalescing, tool-call
// argument fragmenting, terminal finish_reason). Defined in package framing
// so the per-dialect packages can implement it without importing dialect.
type StreamEncoder = framing.StreamEncoder

// Factory returns the Translator for kind, or nil if kind is unknown; Get is
// the concrete Factory.
type Factory func(kind Kind) Translator

// SSEFrame formats one Server-Sent-Event data frame: "data: <json>\n\n".
func SSEFrame(jsonBody []byte) []byte {
	return framing.SSEFrame(jsonBody)
}

// DoneFrame is the OpenAI-style terminal SSE frame.
var DoneFrame = framing.DoneFrame

// SSENamedFrame formats a typed SSE event: "event: <name>\ndata: <json>\n\n",
// the framing the Anthropic-style dialect uses for its streaming events
// (message_start, content_block_delta, message_stop, ...).
func SSENamedFrame(event string, jsonBody []byte) []byte {
	return framing.SSENamedFrame(event, jsonBody)
}
