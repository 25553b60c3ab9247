// Package openai implements the OpenAI-style dialect.Translator (spec §4.1
// Dialect A): flat message sequences, string-or-parts content, and
// tool_calls/tool_call_id for tool use. Grounded on the teacher's
// internal/providers/openai and internal/providers/openaicompat packages for
// which fields the wire format actually carries, generalized here from flat
// strings to the full Unified block model.
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llm-gateway/internal/dialect/framing"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// Translator implements dialect.Translator for the OpenAI-style dialect.
type Translator struct{}

func New() *Translator { return &Translator{} }

// ── Wire types ───────────────────────────────────────────────────────────

type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Tools       []wireTool      `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	User        string          `json:"user,omitempty"`
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	Index    int              `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunctionDef `json:"function"`
}

type wireToolFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireResponse struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model"`
	Choices []wireChoice  `json:"choices"`
	Usage   *wireUsage    `json:"usage,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireOutMsg  `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireOutMsg struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireChunk struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Model   string          `json:"model"`
	Choices []wireChunkChoice `json:"choices"`
	Usage   *wireUsage      `json:"usage,omitempty"`
}

type wireChunkChoice struct {
	Index        int            `json:"index"`
	Delta        wireChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type wireChunkDelta struct {
	Role             string                 `json:"role,omitempty"`
	Content          string                 `json:"content,omitempty"`
	ReasoningContent string                 `json:"reasoning_content,omitempty"`
	ToolCalls        []wireToolCall         `json:"tool_calls,omitempty"`
}

// ── Request conversion ──────────────────────────────────────────────────

func (t *Translator) RequestToUnified(body []byte) (*unified.Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("openai: decode request: %w", err)
	}

	req := &unified.Request{
		Model:       wr.Model,
		Stream:      wr.Stream,
		Temperature: wr.Temperature,
		MaxTokens:   wr.MaxTokens,
		UserID:      wr.User,
	}

	for _, m := range wr.Messages {
		if m.Role == "system" {
			req.System = append(req.System, contentToBlocks(m.Content)...)
			continue
		}
		req.Messages = append(req.Messages, wireMessageToUnified(m))
	}

	for _, tl := range wr.Tools {
		req.Tools = append(req.Tools, unified.Tool{
			Name:        tl.Function.Name,
			Description: tl.Function.Description,
			InputSchema: tl.Function.Parameters,
		})
	}

	req.ToolChoice = toUnifiedToolChoice(wr.ToolChoice)

	return req, nil
}

func wireMessageToUnified(m wireMessage) unified.Message {
	role := unified.Role(m.Role)
	if m.Role == "tool" {
		return unified.Message{
			Role:       unified.RoleTool,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			Content:    contentToBlocks(m.Content),
		}
	}

	blocks := contentToBlocks(m.Content)
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, unified.Block{
			Kind:             unified.BlockToolUse,
			ToolUseID:        tc.ID,
			ToolName:         tc.Function.Name,
			ToolArgsRaw:      tc.Function.Arguments,
			ToolArgsIsString: true, // spec §4.1: OpenAI carries arguments as a JSON string
		})
	}

	return unified.Message{Role: role, Content: blocks, Name: m.Name}
}

func contentToBlocks(raw json.RawMessage) []unified.Block {
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

	var parts []wirePart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	out := make([]unified.Block, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, unified.Block{Kind: unified.BlockText, Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				out = append(out, unified.Block{Kind: unified.BlockImage, URL: p.ImageURL.URL})
			}
		}
	}
	return out
}

func toUnifiedToolChoice(raw json.RawMessage) *unified.ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "auto":
			return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
		case "none":
			return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
		case "required":
			return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
		}
		return nil
	}
	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Function.Name != "" {
		return &unified.ToolChoice{Mode: unified.ToolChoiceName, Name: named.Function.Name}
	}
	return nil
}

// UnifiedToRequest encodes a Unified request as an OpenAI-style body, used
// when the gateway forwards to an OpenAI-compatible upstream or when
// round-tripping for the translator invariant tests (spec §8).
func (t *Translator) UnifiedToRequest(req *unified.Request) ([]byte, error) {
	wr := wireRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        req.UserID,
	}

	if len(req.System) > 0 {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: blocksToContentJSON(req.System)})
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, unifiedMessageToWire(m))
	}
	for _, tl := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireToolFunctionDef{
				Name:        tl.Name,
				Description: tl.Description,
				Parameters:  tl.InputSchema,
			},
		})
	}
	if req.ToolChoice != nil {
		wr.ToolChoice = fromUnifiedToolChoice(*req.ToolChoice)
	}

	return json.Marshal(wr)
}

func unifiedMessageToWire(m unified.Message) wireMessage {
	if m.Role == unified.RoleTool {
		return wireMessage{
			Role:       "tool",
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			Content:    blocksToContentJSON(m.Content),
		}
	}

	wm := wireMessage{Role: string(m.Role), Name: m.Name}
	var textBlocks []unified.Block
	for _, b := range m.Content {
		if b.Kind == unified.BlockToolUse {
			args := b.ToolArgsRaw
			if !b.ToolArgsIsString {
				// Re-serializing only happens when the block didn't originate
				// from this dialect (spec §4.1: preserve the original string
				// verbatim on A->A round trips to avoid drift).
				args = reserializeArgs(args)
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   b.ToolUseID,
				Type: "function",
				Function: wireToolFunction{
					Name:      b.ToolName,
					Arguments: args,
				},
			})
			continue
		}
		textBlocks = append(textBlocks, b)
	}
	wm.Content = blocksToContentJSON(textBlocks)
	return wm
}

func reserializeArgs(raw string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return raw
	}
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return string(out)
}

func blocksToContentJSON(blocks []unified.Block) json.RawMessage {
	if len(blocks) == 0 {
		return nil
	}
	if len(blocks) == 1 && blocks[0].Kind == unified.BlockText {
		out, _ := json.Marshal(blocks[0].Text)
		return out
	}

	parts := make([]wirePart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case unified.BlockText:
			parts = append(parts, wirePart{Type: "text", Text: b.Text})
		case unified.BlockImage:
			parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: b.URL}})
		}
	}
	out, _ := json.Marshal(parts)
	return out
}

func fromUnifiedToolChoice(tc unified.ToolChoice) json.RawMessage {
	switch tc.Mode {
	case unified.ToolChoiceNone:
		out, _ := json.Marshal("none")
		return out
	case unified.ToolChoiceRequired:
		out, _ := json.Marshal("required")
		return out
	case unified.ToolChoiceName:
		out, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		})
		return out
	default:
		out, _ := json.Marshal("auto")
		return out
	}
}

// ── Response conversion ─────────────────────────────────────────────────

func (t *Translator) ResponseToUnified(body []byte) (*unified.Response, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	resp := &unified.Response{ID: wr.ID, Model: wr.Model}
	if wr.Usage != nil {
		resp.Usage = unified.Usage{InputTokens: wr.Usage.PromptTokens, OutputTokens: wr.Usage.CompletionTokens}
	}
	for _, c := range wr.Choices {
		var content []unified.Block
		if c.Message.Content != "" {
			content = append(content, unified.Block{Kind: unified.BlockText, Text: c.Message.Content})
		}
		if c.Message.ReasoningContent != "" {
			content = append(content, unified.Block{Kind: unified.BlockThinking, Text: c.Message.ReasoningContent})
		}
		for _, tc := range c.Message.ToolCalls {
			content = append(content, unified.Block{
				Kind:             unified.BlockToolUse,
				ToolUseID:        tc.ID,
				ToolName:         tc.Function.Name,
				ToolArgsRaw:      tc.Function.Arguments,
				ToolArgsIsString: true,
			})
		}
		resp.Choices = append(resp.Choices, unified.Choice{
			Message:      unified.Message{Role: unified.RoleAssistant, Content: content},
			FinishReason: wireFinishToUnified(c.FinishReason),
		})
	}
	return resp, nil
}

func (t *Translator) UnifiedToResponse(resp *unified.Response) ([]byte, error) {
	wr := wireResponse{ID: resp.ID, Object: "chat.completion", Model: resp.Model}
	wr.Usage = &wireUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	for i, c := range resp.Choices {
		out := wireOutMsg{Role: "assistant"}
		for _, b := range c.Message.Content {
			switch b.Kind {
			case unified.BlockText:
				out.Content += b.Text
			case unified.BlockThinking:
				out.ReasoningContent += b.Text
			case unified.BlockToolUse:
				args := b.ToolArgsRaw
				if !b.ToolArgsIsString {
					args = reserializeArgs(args)
				}
				out.ToolCalls = append(out.ToolCalls, wireToolCall{
					ID:   b.ToolUseID,
					Type: "function",
					Function: wireToolFunction{Name: b.ToolName, Arguments: args},
				})
			}
		}
		wr.Choices = append(wr.Choices, wireChoice{
			Index:        i,
			Message:      out,
			FinishReason: unifiedFinishToWire(c.FinishReason),
		})
	}
	return json.Marshal(wr)
}

func wireFinishToUnified(s string) unified.FinishReason {
	switch s {
	case "length":
		return unified.FinishLength
	case "tool_calls":
		return unified.FinishToolCalls
	case "":
		return ""
	default:
		return unified.FinishStop
	}
}

func unifiedFinishToWire(f unified.FinishReason) string {
	switch f {
	case unified.FinishLength:
		return "length"
	case unified.FinishToolCalls:
		return "tool_calls"
	case unified.FinishError:
		return "stop"
	default:
		return "stop"
	}
}

// ── Streaming ────────────────────────────────────────────────────────────

// streamEncoder implements framing.StreamEncoder for OpenAI-style chunks
// (spec §4.1 streaming rules): one synthetic role delta, coalesced content
// per event (OpenAI chunk shape already carries one content field, so no
// extra buffering is needed beyond passing each event through), and
// per-index incremental tool-call argument fragments.
type streamEncoder struct {
	id         string
	model      string
	sentRole   bool
	toolStarts map[int]bool
}

func (t *Translator) StreamEncoder() framing.StreamEncoder {
	return &streamEncoder{id: "chatcmpl-stream", toolStarts: make(map[int]bool)}
}

func (e *streamEncoder) Encode(ev unified.StreamEvent) [][]byte {
	delta := wireChunkDelta{}
	if !e.sentRole {
		delta.Role = "assistant"
		e.sentRole = true
	}
	if ev.Content != "" {
		delta.Content = ev.Content
	}
	if ev.Reasoning != "" {
		delta.ReasoningContent = ev.Reasoning
	}
	for _, tc := range ev.ToolCalls {
		wtc := wireToolCall{Index: tc.Index, Function: wireToolFunction{Arguments: tc.Arguments}}
		if !e.toolStarts[tc.Index] {
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			e.toolStarts[tc.Index] = true
		}
		delta.ToolCalls = append(delta.ToolCalls, wtc)
	}

	chunk := wireChunk{
		ID:     e.id,
		Object: "chat.completion.chunk",
		Model:  e.model,
		Choices: []wireChunkChoice{{Index: ev.ChoiceIndex, Delta: delta}},
	}
	if ev.FinishReason != "" {
		fr := unifiedFinishToWire(ev.FinishReason)
		chunk.Choices[0].FinishReason = &fr
		if ev.Usage != nil {
			chunk.Usage = &wireUsage{
				PromptTokens:     ev.Usage.InputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		}
	}

	body, err := json.Marshal(chunk)
	if err != nil {
		return nil
	}
	return [][]byte{framing.SSEFrame(body)}
}

func (e *streamEncoder) Done() [][]byte {
	return [][]byte{framing.DoneFrame}
}
