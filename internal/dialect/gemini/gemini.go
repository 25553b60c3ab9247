// Package gemini implements the Gemini-style dialect.Translator (spec §4.1
// Dialect C): a contents list of {role, parts[]}, a top-level
// system_instruction, and functionCall/functionResponse parts instead of a
// dedicated tool role. Grounded on the teacher's internal/providers/gemini
// package (genai wire shape) generalized to the full Unified block model.
package gemini

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
	Contents         []wireContent      `json:"contents"`
	SystemInstruction *wireContent      `json:"system_instruction,omitempty"`
	Tools            []wireToolDecl     `json:"tools,omitempty"`
	ToolConfig       *wireToolConfig    `json:"toolConfig,omitempty"`
	GenerationConfig *wireGenConfig     `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *wireInlineData     `json:"inlineData,omitempty"`
	FileData         *wireFileData       `json:"fileData,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	FunctionCall     *wireFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResp   `json:"functionResponse,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type wireFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type wireFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type wireToolDecl struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolConfig struct {
	FunctionCallingConfig wireFunctionCallingConfig `json:"functionCallingConfig"`
}

type wireFunctionCallingConfig struct {
	Mode                 string   `json:"mode,omitempty"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type wireGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type wireResponse struct {
	Candidates    []wireCandidate  `json:"candidates"`
	UsageMetadata *wireUsageMeta   `json:"usageMetadata,omitempty"`
	ResponseID    string           `json:"responseId,omitempty"`
	ModelVersion  string           `json:"modelVersion,omitempty"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason,omitempty"`
}

type wireUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// ── Request conversion ──────────────────────────────────────────────────

// RequestToUnified decodes a Gemini request body. Gemini always carries
// function-call args as a JSON object, never a string, so ToolArgsIsString
// is false for every block this dialect produces.
func (t *Translator) RequestToUnified(body []byte) (*unified.Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("gemini: decode request: %w", err)
	}

	req := &unified.Request{}
	if wr.SystemInstruction != nil {
		req.System = partsToBlocks(wr.SystemInstruction.Parts)
	}
	if wr.GenerationConfig != nil {
		req.Temperature = wr.GenerationConfig.Temperature
		req.MaxTokens = wr.GenerationConfig.MaxOutputTokens
	}

	for _, c := range wr.Contents {
		role := unified.RoleUser
		if c.Role == "model" {
			role = unified.RoleAssistant
		}

		// A functionResponse part means this turn is really the result of a
		// prior tool call; inline it as a tool-role message rather than a
		// plain user turn (spec §4.1: "tool role is inlined into the
		// following user turn in Dialect C as a functionResponse part").
		var toolBlocks, rest []unified.Block
		for _, p := range c.Parts {
			if p.FunctionResponse != nil {
				raw, _ := json.Marshal(p.FunctionResponse.Response)
				toolBlocks = append(toolBlocks, unified.Block{
					Kind:       unified.BlockToolResult,
					ToolCallID: p.FunctionResponse.Name,
					ToolResultContent: []unified.Block{{Kind: unified.BlockText, Text: string(raw)}},
				})
				continue
			}
			rest = append(rest, partToBlock(p))
		}

		for _, tb := range toolBlocks {
			req.Messages = append(req.Messages, unified.Message{
				Role:       unified.RoleTool,
				ToolCallID: tb.ToolCallID,
				Content:    tb.ToolResultContent,
			})
		}
		if len(rest) > 0 {
			req.Messages = append(req.Messages, unified.Message{Role: role, Content: rest})
		}
	}

	for _, tl := range wr.Tools {
		for _, fd := range tl.FunctionDeclarations {
			req.Tools = append(req.Tools, unified.Tool{
				Name:        fd.Name,
				Description: fd.Description,
				InputSchema: fd.Parameters,
			})
		}
	}

	if wr.ToolConfig != nil {
		req.ToolChoice = toUnifiedToolChoice(wr.ToolConfig.FunctionCallingConfig)
	}

	return req, nil
}

func partsToBlocks(parts []wirePart) []unified.Block {
	out := make([]unified.Block, 0, len(parts))
	for _, p := range parts {
		out = append(out, partToBlock(p))
	}
	return out
}

func partToBlock(p wirePart) unified.Block {
	switch {
	case p.FunctionCall != nil:
		raw, _ := json.Marshal(p.FunctionCall.Args)
		return unified.Block{
			Kind:        unified.BlockToolUse,
			ToolName:    p.FunctionCall.Name,
			ToolUseID:   p.FunctionCall.Name, // Gemini has no separate call id; name doubles as one.
			ToolArgsRaw: string(raw),
		}
	case p.InlineData != nil:
		return unified.Block{Kind: unified.BlockImage, Data: p.InlineData.Data, Mime: p.InlineData.MimeType}
	case p.FileData != nil:
		return unified.Block{Kind: unified.BlockFile, URL: p.FileData.FileURI, Mime: p.FileData.MimeType}
	case p.Thought:
		return unified.Block{Kind: unified.BlockThinking, Text: p.Text}
	default:
		return unified.Block{Kind: unified.BlockText, Text: p.Text}
	}
}

func toUnifiedToolChoice(cfg wireFunctionCallingConfig) *unified.ToolChoice {
	switch cfg.Mode {
	case "NONE":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
	case "ANY":
		if len(cfg.AllowedFunctionNames) == 1 {
			return &unified.ToolChoice{Mode: unified.ToolChoiceName, Name: cfg.AllowedFunctionNames[0]}
		}
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	default:
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	}
}

func (t *Translator) UnifiedToRequest(req *unified.Request) ([]byte, error) {
	wr := wireRequest{}
	if len(req.System) > 0 {
		wr.SystemInstruction = &wireContent{Parts: blocksToParts(req.System)}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		wr.GenerationConfig = &wireGenConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens}
	}

	// Gemini inlines tool-role messages into the following user turn as a
	// functionResponse part (spec §4.1); buffer them until the next non-tool
	// message arrives. A user message takes them at the front of its parts;
	// before a model message, or at the end, they form a user turn of their own.
	var pendingToolParts []wirePart
	flushTool := func() {
		if len(pendingToolParts) > 0 {
			wr.Contents = append(wr.Contents, wireContent{Role: "user", Parts: pendingToolParts})
			pendingToolParts = nil
		}
	}

	for _, m := range req.Messages {
		if m.Role == unified.RoleTool {
			var resp map[string]any
			_ = json.Unmarshal([]byte(flattenToolResultText(m.Content)), &resp)
			if resp == nil {
				resp = map[string]any{"result": flattenToolResultText(m.Content)}
			}
			pendingToolParts = append(pendingToolParts, wirePart{
				FunctionResponse: &wireFunctionResp{Name: m.ToolCallID, Response: resp},
			})
			continue
		}
		role := "user"
		if m.Role == unified.RoleAssistant {
			role = "model"
		}
		parts := blocksToParts(m.Content)
		if role == "user" && len(pendingToolParts) > 0 {
			parts = append(pendingToolParts, parts...)
			pendingToolParts = nil
		}
		flushTool()
		wr.Contents = append(wr.Contents, wireContent{Role: role, Parts: parts})
	}
	flushTool()

	seen := map[string]bool{}
	var decls []wireFunctionDecl
	for _, tl := range req.Tools {
		if seen[tl.Name] {
			continue
		}
		seen[tl.Name] = true
		decls = append(decls, wireFunctionDecl{Name: tl.Name, Description: tl.Description, Parameters: tl.InputSchema})
	}
	if len(decls) > 0 {
		wr.Tools = []wireToolDecl{{FunctionDeclarations: decls}}
	}
	if req.ToolChoice != nil {
		wr.ToolConfig = &wireToolConfig{FunctionCallingConfig: fromUnifiedToolChoice(*req.ToolChoice)}
	}

	return json.Marshal(wr)
}

func flattenToolResultText(blocks []unified.Block) string {
	var out string
	for _, b := range blocks {
		if b.Kind == unified.BlockText {
			out += b.Text
		}
	}
	return out
}

func blocksToParts(blocks []unified.Block) []wirePart {
	out := make([]wirePart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case unified.BlockText:
			out = append(out, wirePart{Text: b.Text})
		case unified.BlockThinking:
			out = append(out, wirePart{Text: b.Text, Thought: true})
		case unified.BlockImage, unified.BlockFile:
			if b.URL != "" {
				out = append(out, wirePart{FileData: &wireFileData{FileURI: b.URL, MimeType: b.Mime}})
			} else {
				out = append(out, wirePart{InlineData: &wireInlineData{Data: b.Data, MimeType: b.Mime}})
			}
		case unified.BlockToolUse:
			var args map[string]any
			_ = json.Unmarshal([]byte(b.ToolArgsRaw), &args)
			out = append(out, wirePart{FunctionCall: &wireFunctionCall{Name: b.ToolName, Args: args}})
		}
	}
	return out
}

func fromUnifiedToolChoice(tc unified.ToolChoice) wireFunctionCallingConfig {
	switch tc.Mode {
	case unified.ToolChoiceNone:
		return wireFunctionCallingConfig{Mode: "NONE"}
	case unified.ToolChoiceRequired:
		return wireFunctionCallingConfig{Mode: "ANY"}
	case unified.ToolChoiceName:
		return wireFunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.Name}}
	default:
		return wireFunctionCallingConfig{Mode: "AUTO"}
	}
}

// ── Response conversion ─────────────────────────────────────────────────

func (t *Translator) ResponseToUnified(body []byte) (*unified.Response, error) {
	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	resp := &unified.Response{ID: wr.ResponseID, Model: wr.ModelVersion}
	if wr.UsageMetadata != nil {
		resp.Usage = unified.Usage{InputTokens: wr.UsageMetadata.PromptTokenCount, OutputTokens: wr.UsageMetadata.CandidatesTokenCount}
	}
	for _, c := range wr.Candidates {
		content := partsToBlocks(c.Content.Parts)
		finish := unified.FinishStop
		for _, b := range content {
			if b.Kind == unified.BlockToolUse {
				finish = unified.FinishToolCalls
			}
		}
		if c.FinishReason == "MAX_TOKENS" {
			finish = unified.FinishLength
		}
		resp.Choices = append(resp.Choices, unified.Choice{
			Message:      unified.Message{Role: unified.RoleAssistant, Content: content},
			FinishReason: finish,
		})
	}
	return resp, nil
}

func (t *Translator) UnifiedToResponse(resp *unified.Response) ([]byte, error) {
	wr := wireResponse{
		ResponseID: resp.ID,
		ModelVersion: resp.Model,
		UsageMetadata: &wireUsageMeta{PromptTokenCount: resp.Usage.InputTokens, CandidatesTokenCount: resp.Usage.OutputTokens},
	}
	for _, c := range resp.Choices {
		wr.Candidates = append(wr.Candidates, wireCandidate{
			Content:      wireContent{Role: "model", Parts: blocksToParts(c.Message.Content)},
			FinishReason: unifiedFinishToWire(c.FinishReason),
		})
	}
	return json.Marshal(wr)
}

func unifiedFinishToWire(f unified.FinishReason) string {
	switch f {
	case unified.FinishLength:
		return "MAX_TOKENS"
	case unified.FinishToolCalls:
		return "STOP"
	default:
		return "STOP"
	}
}

// ── Streaming ────────────────────────────────────────────────────────────

// streamEncoder emits newline-delimited JSON GenerateContentResponse
// objects (spec §6: streamGenerateContent "Streams newline-delimited
// JSON"), one per Unified delta, merging content and tool-call fragments
// into a single candidate part list per event.
type streamEncoder struct{}

func (t *Translator) StreamEncoder() framing.StreamEncoder {
	return &streamEncoder{}
}

func (e *streamEncoder) Encode(ev unified.StreamEvent) [][]byte {
	var parts []wirePart
	if ev.Content != "" {
		parts = append(parts, wirePart{Text: ev.Content})
	}
	if ev.Reasoning != "" {
		parts = append(parts, wirePart{Text: ev.Reasoning, Thought: true})
	}
	for _, tc := range ev.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		parts = append(parts, wirePart{FunctionCall: &wireFunctionCall{Name: tc.Name, Args: args}})
	}
	if len(parts) == 0 && ev.FinishReason == "" {
		return nil
	}

	cand := wireCandidate{Content: wireContent{Role: "model", Parts: parts}}
	if ev.FinishReason != "" {
		cand.FinishReason = unifiedFinishToWire(ev.FinishReason)
	}
	resp := wireResponse{Candidates: []wireCandidate{cand}}
	if ev.Usage != nil {
		resp.UsageMetadata = &wireUsageMeta{PromptTokenCount: ev.Usage.InputTokens, CandidatesTokenCount: ev.Usage.OutputTokens}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, body...)
	out = append(out, '\n')
	return [][]byte{out}
}

func (e *streamEncoder) Done() [][]byte { return nil }
