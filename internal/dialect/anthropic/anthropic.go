// Package anthropic implements the Anthropic-style dialect.Translator (spec
// §4.1 Dialect B): block-sequence messages, top-level system, cache_control
// markers, and typed SSE streaming events. Grounded on the teacher's
// internal/adapter/anthropic package (same block vocabulary, reused on the
// wire side of the gateway rather than only the upstream-SDK side).
package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llm-gateway/internal/dialect/framing"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

type Translator struct{}

func New() *Translator { return &Translator{} }

// ── Wire types ───────────────────────────────────────────────────────────

type wireRequest struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []wireMessage   `json:"messages"`
	Tools       []wireTool      `json:"tools,omitempty"`
	ToolChoice  *wireToolChoice `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Metadata    *wireMetadata   `json:"metadata,omitempty"`
}

type wireMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireCacheControl struct {
	Type string `json:"type"`
	TTL  string `json:"ttl,omitempty"`
}

type wireBlock struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	Source       *wireImageSource  `json:"source,omitempty"`
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name,omitempty"`
	Input        map[string]any    `json:"input,omitempty"`
	ToolUseID    string            `json:"tool_use_id,omitempty"`
	Content      json.RawMessage   `json:"content,omitempty"`
	IsError      bool              `json:"is_error,omitempty"`
	Thinking     string            `json:"thinking,omitempty"`
	Signature    string            `json:"signature,omitempty"`
	CacheControl *wireCacheControl `json:"cache_control,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type wireResponse struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Role       string      `json:"role"`
	Model      string      `json:"model"`
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// ── Request conversion ──────────────────────────────────────────────────

func (t *Translator) RequestToUnified(body []byte) (*unified.Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("anthropic: decode request: %w", err)
	}

	req := &unified.Request{
		Model:       wr.Model,
		Stream:      wr.Stream,
		Temperature: wr.Temperature,
		MaxTokens:   wr.MaxTokens,
	}
	if wr.Metadata != nil {
		req.UserID = wr.Metadata.UserID
	}
	req.System = systemToBlocks(wr.System)

	for _, m := range wr.Messages {
		req.Messages = append(req.Messages, unified.Message{
			Role:    unified.Role(m.Role),
			Content: wireBlocksToUnified(m.Content),
		})
	}

	for _, tl := range wr.Tools {
		req.Tools = append(req.Tools, unified.Tool{
			Name:        tl.Name,
			Description: tl.Description,
			InputSchema: tl.InputSchema,
		})
	}

	if wr.ToolChoice != nil {
		req.ToolChoice = toUnifiedToolChoice(*wr.ToolChoice)
	}

	return req, nil
}

func systemToBlocks(raw json.RawMessage) []unified.Block {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []unified.Block{{Kind: unified.BlockText, Text: asString}}
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return wireBlocksToUnified(blocks)
}

func wireBlocksToUnified(blocks []wireBlock) []unified.Block {
	out := make([]unified.Block, 0, len(blocks))
	for _, b := range blocks {
		ub := unified.Block{}
		if b.CacheControl != nil {
			ub.CacheControl = &unified.CacheControl{TTL: b.CacheControl.TTL}
			if ub.CacheControl.TTL == "" {
				ub.CacheControl.TTL = "5m"
			}
		}
		switch b.Type {
		case "text":
			ub.Kind = unified.BlockText
			ub.Text = b.Text
		case "image":
			ub.Kind = unified.BlockImage
			if b.Source != nil {
				if b.Source.Type == "url" {
					ub.URL = b.Source.URL
				} else {
					ub.Data = b.Source.Data
					ub.Mime = b.Source.MediaType
				}
			}
		case "thinking":
			ub.Kind = unified.BlockThinking
			ub.Text = b.Thinking
			ub.Signature = b.Signature
		case "tool_use":
			ub.Kind = unified.BlockToolUse
			ub.ToolUseID = b.ID
			ub.ToolName = b.Name
			raw, _ := json.Marshal(b.Input)
			ub.ToolArgsRaw = string(raw)
		case "tool_result":
			ub.Kind = unified.BlockToolResult
			ub.ToolCallID = b.ToolUseID
			ub.IsError = b.IsError
			ub.ToolResultContent = toolResultContentToBlocks(b.Content)
		default:
			continue
		}
		out = append(out, ub)
	}
	return out
}

func toolResultContentToBlocks(raw json.RawMessage) []unified.Block {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []unified.Block{{Kind: unified.BlockText, Text: asString}}
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return wireBlocksToUnified(blocks)
}

func toUnifiedToolChoice(tc wireToolChoice) *unified.ToolChoice {
	switch tc.Type {
	case "none":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
	case "any":
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	case "tool":
		return &unified.ToolChoice{Mode: unified.ToolChoiceName, Name: tc.Name}
	default:
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	}
}

func (t *Translator) UnifiedToRequest(req *unified.Request) ([]byte, error) {
	wr := wireRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.UserID != "" {
		wr.Metadata = &wireMetadata{UserID: req.UserID}
	}
	if len(req.System) > 0 {
		sys, _ := json.Marshal(unifiedBlocksToWire(req.System))
		wr.System = sys
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, wireMessage{
			Role:    string(m.Role),
			Content: unifiedBlocksToWire(m.Content),
		})
	}
	for _, tl := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Name: tl.Name, Description: tl.Description, InputSchema: tl.InputSchema})
	}
	if req.ToolChoice != nil {
		wr.ToolChoice = fromUnifiedToolChoice(*req.ToolChoice)
	}
	return json.Marshal(wr)
}

func unifiedBlocksToWire(blocks []unified.Block) []wireBlock {
	out := make([]wireBlock, 0, len(blocks))
	for _, b := range blocks {
		wb := wireBlock{}
		if b.CacheControl != nil {
			wb.CacheControl = &wireCacheControl{Type: "ephemeral", TTL: b.CacheControl.TTL}
		}
		switch b.Kind {
		case unified.BlockText:
			wb.Type = "text"
			wb.Text = b.Text
		case unified.BlockImage:
			wb.Type = "image"
			if b.URL != "" {
				wb.Source = &wireImageSource{Type: "url", URL: b.URL}
			} else {
				wb.Source = &wireImageSource{Type: "base64", MediaType: b.Mime, Data: b.Data}
			}
		case unified.BlockThinking:
			wb.Type = "thinking"
			wb.Thinking = b.Text
			wb.Signature = b.Signature
		case unified.BlockToolUse:
			wb.Type = "tool_use"
			wb.ID = b.ToolUseID
			wb.Name = b.ToolName
			var m map[string]any
			_ = json.Unmarshal([]byte(b.ToolArgsRaw), &m)
			wb.Input = m
		case unified.BlockToolResult:
			wb.Type = "tool_result"
			wb.ToolUseID = b.ToolCallID
			wb.IsError = b.IsError
			content, _ := json.Marshal(unifiedBlocksToWire(b.ToolResultContent))
			wb.Content = content
		default:
			continue
		}
		out = append(out, wb)
	}
	return out
}

func fromUnifiedToolChoice(tc unified.ToolChoice) *wireToolChoice {
	switch tc.Mode {
	case unified.ToolChoiceNone:
		return &wireToolChoice{Type: "none"}
	case unified.ToolChoiceRequired:
		return &wireToolChoice{Type: "any"}
	case unified.ToolChoiceName:
		return &wireToolChoice{Type: "tool", Name: tc.Name}
	default:
		return &wireToolChoice{Type: "auto"}
	}
}

// ── Response conversion ─────────────────────────────────────────────────

func (t *Translator) ResponseToUnified(body []byte) (*unified.Response, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	content := wireBlocksToUnified(wr.Content)
	finish := unified.FinishStop
	for _, b := range content {
		if b.Kind == unified.BlockToolUse {
			finish = unified.FinishToolCalls
		}
	}
	if wr.StopReason == "max_tokens" {
		finish = unified.FinishLength
	}
	return &unified.Response{
		ID:    wr.ID,
		Model: wr.Model,
		Choices: []unified.Choice{{
			Message:      unified.Message{Role: unified.RoleAssistant, Content: content},
			FinishReason: finish,
		}},
		Usage: unified.Usage{
			InputTokens:              wr.Usage.InputTokens,
			OutputTokens:             wr.Usage.OutputTokens,
			CacheReadInputTokens:     wr.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: wr.Usage.CacheCreationInputTokens,
		},
	}, nil
}

func (t *Translator) UnifiedToResponse(resp *unified.Response) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anthropic: response has no choices")
	}
	c := resp.Choices[0]
	wr := wireResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    unifiedBlocksToWire(c.Message.Content),
		StopReason: unifiedFinishToWire(c.FinishReason),
		Usage: wireUsage{
			InputTokens:              resp.Usage.InputTokens,
			OutputTokens:             resp.Usage.OutputTokens,
			CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		},
	}
	return json.Marshal(wr)
}

func unifiedFinishToWire(f unified.FinishReason) string {
	switch f {
	case unified.FinishLength:
		return "max_tokens"
	case unified.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// ── Streaming ────────────────────────────────────────────────────────────

// streamEncoder emits the typed SSE event sequence clients of the
// Anthropic-style dialect expect: message_start, one content_block_start/
// delta/stop triple per content block, message_delta (usage), message_stop.
// Per spec §4.1 rule 3, incremental tool-call arguments arrive as
// input_json_delta fragments keyed by block index.
type streamEncoder struct {
	started      bool
	blockOpen    bool
	blockIndex   int
	openKind     string // "text" | "tool_use" | "thinking" | ""
	toolIndexes  map[int]int // unified tool-call Index -> anthropic block index
}

func (t *Translator) StreamEncoder() framing.StreamEncoder {
	return &streamEncoder{toolIndexes: make(map[int]int)}
}

func (e *streamEncoder) Encode(ev unified.StreamEvent) [][]byte {
	var frames [][]byte

	if !e.started {
		e.started = true
		start, _ := json.Marshal(map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "msg_stream", "type": "message", "role": "assistant", "content": []any{},
			},
		})
		frames = append(frames, framing.SSENamedFrame("message_start", start))
	}

	if ev.Content != "" {
		frames = append(frames, e.ensureBlock("text")...)
		delta, _ := json.Marshal(map[string]any{
			"type": "content_block_delta", "index": e.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": ev.Content},
		})
		frames = append(frames, framing.SSENamedFrame("content_block_delta", delta))
	}

	if ev.Reasoning != "" {
		frames = append(frames, e.ensureBlock("thinking")...)
		delta, _ := json.Marshal(map[string]any{
			"type": "content_block_delta", "index": e.blockIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.Reasoning},
		})
		frames = append(frames, framing.SSENamedFrame("content_block_delta", delta))
	}

	for _, tc := range ev.ToolCalls {
		idx, known := e.toolIndexes[tc.Index]
		if !known {
			frames = append(frames, e.closeBlock()...)
			idx = e.nextBlockIndex()
			e.toolIndexes[tc.Index] = idx
			e.blockOpen = true
			e.openKind = "tool_use"
			start, _ := json.Marshal(map[string]any{
				"type": "content_block_start", "index": idx,
				"content_block": map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": map[string]any{}},
			})
			frames = append(frames, framing.SSENamedFrame("content_block_start", start))
		}
		delta, _ := json.Marshal(map[string]any{
			"type": "content_block_delta", "index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Arguments},
		})
		frames = append(frames, framing.SSENamedFrame("content_block_delta", delta))
	}

	if ev.FinishReason != "" {
		frames = append(frames, e.closeBlock()...)
		deltaEv, _ := json.Marshal(map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": unifiedFinishToWire(ev.FinishReason)},
			"usage": usagePayload(ev.Usage),
		})
		frames = append(frames, framing.SSENamedFrame("message_delta", deltaEv))
	}

	return frames
}

func usagePayload(u *unified.Usage) map[string]any {
	if u == nil {
		return map[string]any{"output_tokens": 0}
	}
	return map[string]any{
		"input_tokens":                u.InputTokens,
		"output_tokens":               u.OutputTokens,
		"cache_read_input_tokens":     u.CacheReadInputTokens,
		"cache_creation_input_tokens": u.CacheCreationInputTokens,
	}
}

func (e *streamEncoder) nextBlockIndex() int {
	if e.blockIndex > 0 || e.openKind != "" {
		e.blockIndex++
	}
	return e.blockIndex
}

// ensureBlock opens a content block of kind if none is open, or reopens a
// new one if the currently open block is a different kind (closing the old
// one first) — coalescing adjacent same-kind fragments under one index.
func (e *streamEncoder) ensureBlock(kind string) [][]byte {
	if e.blockOpen && e.openKind == kind {
		return nil
	}
	var frames [][]byte
	frames = append(frames, e.closeBlock()...)
	idx := e.nextBlockIndex()
	e.blockOpen = true
	e.openKind = kind
	start, _ := json.Marshal(map[string]any{
		"type": "content_block_start", "index": idx,
		"content_block": map[string]any{"type": kind, "text": ""},
	})
	frames = append(frames, framing.SSENamedFrame("content_block_start", start))
	return frames
}

func (e *streamEncoder) closeBlock() [][]byte {
	if !e.blockOpen {
		return nil
	}
	e.blockOpen = false
	stop, _ := json.Marshal(map[string]any{"type": "content_block_stop", "index": e.blockIndex})
	return [][]byte{framing.SSENamedFrame("content_block_stop", stop)}
}

func (e *streamEncoder) Done() [][]byte {
	stop, _ := json.Marshal(map[string]any{"type": "message_stop"})
	return [][]byte{framing.SSENamedFrame("message_stop", stop)}
}
