// Package framing holds the dialect-agnostic SSE/NDJSON framing helpers and
// the StreamEncoder interface. It is a leaf package so that both the
// dialect package and the per-dialect implementation packages (anthropic,
// openai, gemini) can depend on it without an import cycle.
package framing

import (
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// StreamEncoder accumulates the per-stream state needed to translate a
// sequence of Unified StreamEvents into dialect-native wire frames (spec
// §4.1 streaming rules 1-4: synthetic role delta, text coalescing, tool-call
// argument fragmenting, terminal finish_reason).
type StreamEncoder interface {
	// Encode returns zero or more complete wire frames (already prefixed per
	// the dialect's SSE/NDJSON framing) for one Unified event. An empty
	// return means the event was buffered/suppressed for now.
	Encode(ev unified.StreamEvent) [][]byte
	// Done returns the frame(s), if any, that terminate the stream (e.g.
	// OpenAI-style "data: [DONE]\n\n"); called once after the terminal event.
	Done() [][]byte
}

// SSEFrame formats one Server-Sent-Event data frame: "data: <json>\n\n".
func SSEFrame(jsonBody []byte) []byte {
	out := make([]byte, 0, len(jsonBody)+8)
	out = append(out, "data: "...)
	out = append(out, jsonBody...)
	out = append(out, '\n', '\n')
	return out
}

// DoneFrame is the OpenAI-style terminal SSE frame.
var DoneFrame = []byte("data: [DONE]\n\n")

// SSENamedFrame formats a typed SSE event: "event: <name>\ndata: <json>\n\n",
// the framing the Anthropic-style dialect uses for its streaming events
// (message_start, content_block_delta, message_stop, ...).
func SSENamedFrame(event string, jsonBody []byte) []byte {
	out := make([]byte, 0, len(jsonBody)+len(event)+16)
	out = append(out, "event: "...)
	out = append(out, event...)
	out = append(out, '\n')
	out = append(out, "data: "...)
	out = append(out, jsonBody...)
	out = append(out, '\n', '\n')
	return out
}
