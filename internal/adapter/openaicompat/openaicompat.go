// Package openaicompat is a configurable adapter.Adapter for any upstream
// that speaks the OpenAI chat-completions wire protocol under a different
// base URL and provider kind (xAI, Groq, DeepSeek, Together AI,
// Perplexity, Cerebras, ...), generalizing the teacher's
// internal/providers/openaicompat package from flat content strings to
// unified.Block sequences with tool-call support.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

const requestTimeout = 120 * time.Second

// Adapter is a configurable OpenAI-compatible adapter.Adapter.
//
//   - Kind    — unique provider kind identifier used for credential
//     grouping and routing.
//   - BaseURL — API base URL, e.g. "https://api.x.ai/v1".
type Adapter struct {
	Kind    string
	BaseURL string
}

// New creates an OpenAI-compatible Adapter for one provider kind.
func New(kind, baseURL string) *Adapter {
	return &Adapter{Kind: kind, BaseURL: baseURL}
}

func (a *Adapter) ProviderKind() string { return a.Kind }

func (a *Adapter) client(cred *credential.Credential) *openaiSDK.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cred.SecretMaterial),
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout}),
	}
	if a.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.BaseURL))
	}
	client := openaiSDK.NewClient(opts...)
	return &client
}

func (a *Adapter) Generate(ctx context.Context, cred *credential.Credential, req *unified.Request) (*unified.Response, error) {
	params := buildParams(req)
	resp, err := a.client(cred).Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.toUpstreamError(err)
	}
	return toUnifiedResponse(resp), nil
}

func (a *Adapter) GenerateStream(ctx context.Context, cred *credential.Credential, req *unified.Request) (<-chan unified.StreamEvent, error) {
	params := buildParams(req)
	stream := a.client(cred).Chat.Completions.NewStreaming(ctx, params)

	out := make(chan unified.StreamEvent, 64)
	go func() {
		defer close(out)
		var sentRole bool
		toolStarted := map[int64]bool{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]

			if c.Delta.Content != "" {
				out <- deltaEvent(c.Delta.Content, nil, &sentRole)
			}
			for _, tc := range c.Delta.ToolCalls {
				d := unified.ToolCallDelta{Index: int(tc.Index), Arguments: tc.Function.Arguments}
				if !toolStarted[tc.Index] {
					d.ID = tc.ID
					d.Name = tc.Function.Name
					toolStarted[tc.Index] = true
				}
				out <- deltaEvent("", []unified.ToolCallDelta{d}, &sentRole)
			}
			if c.FinishReason != "" {
				ev := unified.StreamEvent{Kind: unified.EventDelta, FinishReason: finishFromWire(string(c.FinishReason))}
				if chunk.Usage.TotalTokens > 0 {
					ev.Usage = &unified.Usage{InputTokens: int(chunk.Usage.PromptTokens), OutputTokens: int(chunk.Usage.CompletionTokens)}
				}
				out <- ev
			}
		}
		if err := stream.Err(); err != nil {
			out <- unified.StreamEvent{Kind: unified.EventDelta, FinishReason: unified.FinishError, Warning: err.Error()}
		}
	}()

	return out, nil
}

func deltaEvent(content string, toolCalls []unified.ToolCallDelta, sentRole *bool) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Content: content, ToolCalls: toolCalls}
	if !*sentRole {
		ev.Role = unified.RoleAssistant
		*sentRole = true
	}
	return ev
}

func finishFromWire(reason string) unified.FinishReason {
	switch reason {
	case "length":
		return unified.FinishLength
	case "tool_calls":
		return unified.FinishToolCalls
	default:
		return unified.FinishStop
	}
}

func (a *Adapter) ListModels(ctx context.Context, cred *credential.Credential) ([]string, error) {
	page, err := a.client(cred).Models.List(ctx)
	if err != nil {
		return nil, a.toUpstreamError(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func buildParams(req *unified.Request) openaiSDK.ChatCompletionNewParams {
	params := openaiSDK.ChatCompletionNewParams{Model: req.Model, Messages: toSDKMessages(req)}
	if req.Temperature != nil {
		params.Temperature = openaiSDK.Float(*req.Temperature)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			params.Tools = append(params.Tools, openaiSDK.ChatCompletionFunctionTool(openaiSDK.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaiSDK.String(t.Description),
				Parameters:  t.InputSchema,
			}))
		}
	}
	return params
}

func toSDKMessages(req *unified.Request) []openaiSDK.ChatCompletionMessageParamUnion {
	out := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if len(req.System) > 0 {
		out = append(out, openaiSDK.SystemMessage(flattenText(req.System)))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case unified.RoleAssistant:
			out = append(out, assistantMessage(m.Content))
		case unified.RoleTool:
			out = append(out, openaiSDK.ToolMessage(flattenText(m.Content), m.ToolCallID))
		default:
			out = append(out, openaiSDK.UserMessage(flattenText(m.Content)))
		}
	}
	return out
}

func assistantMessage(blocks []unified.Block) openaiSDK.ChatCompletionMessageParamUnion {
	msg := openaiSDK.ChatCompletionAssistantMessageParam{
		Content: openaiSDK.ChatCompletionAssistantMessageParamContentUnion{OfString: openaiSDK.String(flattenText(blocks))},
	}
	for _, b := range blocks {
		if b.Kind != unified.BlockToolUse {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, openaiSDK.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openaiSDK.ChatCompletionMessageFunctionToolCallParam{
				ID: b.ToolUseID,
				Function: openaiSDK.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      b.ToolName,
					Arguments: b.ToolArgsRaw,
				},
			},
		})
	}
	return openaiSDK.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func flattenText(blocks []unified.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Kind == unified.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func toUnifiedResponse(resp *openaiSDK.ChatCompletion) *unified.Response {
	out := &unified.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: unified.Usage{InputTokens: int(resp.Usage.PromptTokens), OutputTokens: int(resp.Usage.CompletionTokens)},
	}
	for _, c := range resp.Choices {
		var content []unified.Block
		if c.Message.Content != "" {
			content = append(content, unified.Block{Kind: unified.BlockText, Text: c.Message.Content})
		}
		finish := finishFromWire(string(c.FinishReason))
		for _, tc := range c.Message.ToolCalls {
			content = append(content, unified.Block{
				Kind:             unified.BlockToolUse,
				ToolUseID:        tc.ID,
				ToolName:         tc.Function.Name,
				ToolArgsRaw:      tc.Function.Arguments,
				ToolArgsIsString: true,
			})
			finish = unified.FinishToolCalls
		}
		out.Choices = append(out.Choices, unified.Choice{
			Message:      unified.Message{Role: unified.RoleAssistant, Content: content},
			FinishReason: finish,
		})
	}
	return out
}

// ProviderError is a structured error type for a failed OpenAI-compatible API
// call. The adapter's own calls return *credential.UpstreamError (built by
// adapter.ClassifyStatus), not ProviderError.
type ProviderError struct {
	Kind       string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Kind, e.Message, e.StatusCode)
}

func (a *Adapter) toUpstreamError(err error) error {
	statusCode := 0
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		statusCode = apierr.StatusCode
	}
	return adapter.ClassifyStatus(statusCode, fmt.Errorf("%s: %w", a.Kind, err))
}
