// Package anthropic is the direct Anthropic-dialect upstream adapter
// (spec §4.4). It wraps the official SDK the same way the teacher's
// internal/providers/anthropic package does, generalized from a single
// configured API key to a *credential.Credential supplied per call and
// from flat message strings to unified.Block sequences.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerKind     = "anthropic"
	defaultMaxTokens = 4096
	requestTimeout   = 120 * time.Second
)

// Adapter implements adapter.Adapter for direct Anthropic credentials.
type Adapter struct {
	baseURL string
}

// New creates an Anthropic Adapter. baseURL empty means the default.
func New(baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{baseURL: baseURL}
}

func (a *Adapter) ProviderKind() string { return providerKind }

func (a *Adapter) client(cred *credential.Credential) anthropicsdk.Client {
	httpClient := &http.Client{Timeout: requestTimeout}
	return anthropicsdk.NewClient(
		option.WithAPIKey(cred.SecretMaterial),
		option.WithBaseURL(a.baseURL),
		option.WithHTTPClient(httpClient),
	)
}

func (a *Adapter) Generate(ctx context.Context, cred *credential.Credential, req *unified.Request) (*unified.Response, error) {
	params := buildParams(req)
	client := a.client(cred)

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, toUpstreamError(err)
	}

	return toUnifiedResponse(msg), nil
}

func (a *Adapter) GenerateStream(ctx context.Context, cred *credential.Credential, req *unified.Request) (<-chan unified.StreamEvent, error) {
	params := buildParams(req)
	client := a.client(cred)

	out := make(chan unified.StreamEvent, 64)
	stream := client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		var sentRole bool
		var usage unified.Usage

		for stream.Next() {
			ev := stream.Current()
			switch variant := ev.AsAny().(type) {
			case anthropicsdk.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropicsdk.TextDelta:
					out <- textDelta(delta.Text, &sentRole)
				case anthropicsdk.ThinkingDelta:
					out <- thinkingDelta(delta.Thinking, &sentRole)
				}
			case anthropicsdk.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(variant.Usage.OutputTokens)
				}
			case anthropicsdk.MessageStopEvent:
				out <- unified.StreamEvent{
					Kind:         unified.EventDelta,
					FinishReason: unified.FinishStop,
					Usage:        &usage,
				}
			}
		}

		if err := stream.Err(); err != nil {
			out <- unified.StreamEvent{
				Kind:         unified.EventDelta,
				FinishReason: unified.FinishError,
				Warning:      err.Error(),
			}
		}
	}()

	return out, nil
}

func textDelta(text string, sentRole *bool) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Content: text}
	if !*sentRole {
		ev.Role = unified.RoleAssistant
		*sentRole = true
	}
	return ev
}

func thinkingDelta(text string, sentRole *bool) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Reasoning: text}
	if !*sentRole {
		ev.Role = unified.RoleAssistant
		*sentRole = true
	}
	return ev
}

func (a *Adapter) ListModels(ctx context.Context, cred *credential.Credential) ([]string, error) {
	client := a.client(cred)
	page, err := client.Models.List(ctx, anthropicsdk.ModelListParams{Limit: anthropicsdk.Int(100)})
	if err != nil {
		return nil, toUpstreamError(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, string(m.ID))
	}
	return models, nil
}

func (a *Adapter) CountTokens(ctx context.Context, cred *credential.Credential, req *unified.Request) (int, error) {
	params := buildParams(req)
	client := a.client(cred)
	resp, err := client.Messages.CountTokens(ctx, anthropicsdk.MessageCountTokensParams{
		Model:    params.Model,
		Messages: params.Messages,
		System:   anthropicsdk.MessageCountTokensParamsSystemUnion{OfTextBlockArray: params.System},
	})
	if err != nil {
		return 0, toUpstreamError(err)
	}
	return int(resp.InputTokens), nil
}

func buildParams(req *unified.Request) anthropicsdk.MessageNewParams {
	params := anthropicsdk.MessageNewParams{
		Model:    anthropicsdk.Model(req.Model),
		Messages: toSDKMessages(req.Messages),
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	params.MaxTokens = int64(maxTokens)

	if len(req.System) > 0 {
		params.System = toSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}
	if req.ToolChoice != nil {
		params.ToolChoice = toSDKToolChoice(*req.ToolChoice)
	}

	return params
}

func toSystemBlocks(blocks []unified.Block) []anthropicsdk.TextBlockParam {
	out := make([]anthropicsdk.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		if b.Kind != unified.BlockText {
			continue
		}
		tb := anthropicsdk.TextBlockParam{Text: b.Text}
		if b.CacheControl != nil {
			tb.CacheControl = anthropicsdk.CacheControlEphemeralParam{Type: "ephemeral"}
		}
		out = append(out, tb)
	}
	return out
}

func toSDKMessages(msgs []unified.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		role := anthropicsdk.MessageParamRoleUser
		if m.Role == unified.RoleAssistant {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		out = append(out, anthropicsdk.MessageParam{
			Role:    role,
			Content: toSDKBlocks(m.Content),
		})
	}
	return out
}

func toSDKBlocks(blocks []unified.Block) []anthropicsdk.ContentBlockParamUnion {
	out := make([]anthropicsdk.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case unified.BlockText:
			out = append(out, anthropicsdk.ContentBlockParamUnion{
				OfText: &anthropicsdk.TextBlockParam{Text: b.Text},
			})
		case unified.BlockToolUse:
			out = append(out, anthropicsdk.ContentBlockParamUnion{
				OfToolUse: &anthropicsdk.ToolUseBlockParam{
					ID:    b.ToolUseID,
					Name:  b.ToolName,
					Input: decodeToolArgs(b.ToolArgsRaw),
				},
			})
		case unified.BlockToolResult:
			out = append(out, anthropicsdk.ContentBlockParamUnion{
				OfToolResult: &anthropicsdk.ToolResultBlockParam{
					ToolUseID: b.ToolCallID,
					IsError:   anthropicsdk.Bool(b.IsError),
					Content: []anthropicsdk.ToolResultBlockParamContentUnion{
						{OfText: &anthropicsdk.TextBlockParam{Text: flattenToolResult(b.ToolResultContent)}},
					},
				},
			})
		case unified.BlockImage:
			if b.URL != "" {
				out = append(out, anthropicsdk.ContentBlockParamUnion{
					OfImage: &anthropicsdk.ImageBlockParam{
						Source: anthropicsdk.ImageBlockParamSourceUnion{
							OfURL: &anthropicsdk.URLImageSourceParam{URL: b.URL},
						},
					},
				})
			} else {
				out = append(out, anthropicsdk.ContentBlockParamUnion{
					OfImage: &anthropicsdk.ImageBlockParam{
						Source: anthropicsdk.ImageBlockParamSourceUnion{
							OfBase64: &anthropicsdk.Base64ImageSourceParam{
								MediaType: anthropicsdk.Base64ImageSourceMediaType(b.Mime),
								Data:      b.Data,
							},
						},
					},
				})
			}
		}
	}
	return out
}

func flattenToolResult(blocks []unified.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Kind == unified.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func decodeToolArgs(raw string) map[string]any {
	m, err := jsonObject(raw)
	if err != nil {
		return map[string]any{}
	}
	return m
}

func toSDKTools(tools []unified.Tool) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: t.InputSchema["properties"],
				},
			},
		})
	}
	return out
}

func toSDKToolChoice(tc unified.ToolChoice) anthropicsdk.ToolChoiceUnionParam {
	switch tc.Mode {
	case unified.ToolChoiceNone:
		return anthropicsdk.ToolChoiceUnionParam{OfNone: &anthropicsdk.ToolChoiceNoneParam{}}
	case unified.ToolChoiceRequired:
		return anthropicsdk.ToolChoiceUnionParam{OfAny: &anthropicsdk.ToolChoiceAnyParam{}}
	case unified.ToolChoiceName:
		return anthropicsdk.ToolChoiceUnionParam{OfTool: &anthropicsdk.ToolChoiceToolParam{Name: tc.Name}}
	default:
		return anthropicsdk.ToolChoiceUnionParam{OfAuto: &anthropicsdk.ToolChoiceAutoParam{}}
	}
}

func toUnifiedResponse(msg *anthropicsdk.Message) *unified.Response {
	var content []unified.Block
	finish := unified.FinishStop

	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropicsdk.TextBlock:
			content = append(content, unified.Block{Kind: unified.BlockText, Text: v.Text})
		case anthropicsdk.ThinkingBlock:
			content = append(content, unified.Block{Kind: unified.BlockThinking, Text: v.Thinking, Signature: v.Signature})
		case anthropicsdk.ToolUseBlock:
			content = append(content, unified.Block{
				Kind:        unified.BlockToolUse,
				ToolUseID:   v.ID,
				ToolName:    v.Name,
				ToolArgsRaw: string(v.Input),
			})
			finish = unified.FinishToolCalls
		}
	}

	if string(msg.StopReason) == "max_tokens" {
		finish = unified.FinishLength
	}

	return &unified.Response{
		ID:    msg.ID,
		Model: string(msg.Model),
		Choices: []unified.Choice{{
			Message:      unified.Message{Role: unified.RoleAssistant, Content: content},
			FinishReason: finish,
		}},
		Usage: unified.Usage{
			InputTokens:              int(msg.Usage.InputTokens),
			OutputTokens:             int(msg.Usage.OutputTokens),
			CacheReadInputTokens:     int(msg.Usage.CacheReadInputTokens),
			CacheCreationInputTokens: int(msg.Usage.CacheCreationInputTokens),
		},
	}
}

func toUpstreamError(err error) error {
	statusCode := 0
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode
	}
	return adapter.ClassifyStatus(statusCode, fmt.Errorf("anthropic: %w", err))
}
