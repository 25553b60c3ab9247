// Package openai is the direct OpenAI-dialect upstream adapter (spec
// §4.4). It wraps the official SDK the same way the teacher's
// internal/providers/openai package does, generalized from a single
// configured API key to a *credential.Credential supplied per call and
// from flat content strings to unified.Block sequences with full tool-call
// and streaming support.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerKind   = "openai"
	requestTimeout = 120 * time.Second
)

// Adapter implements adapter.Adapter for direct OpenAI credentials.
type Adapter struct {
	baseURL string
}

// New creates an OpenAI Adapter. baseURL empty means the default.
func New(baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{baseURL: baseURL}
}

func (a *Adapter) ProviderKind() string { return providerKind }

func (a *Adapter) client(cred *credential.Credential) openaiSDK.Client {
	httpClient := &http.Client{Timeout: requestTimeout}
	if a.baseURL != "" && a.baseURL != defaultBaseURL {
		httpClient.Transport = newBaseURLTransport(http.DefaultTransport, a.baseURL)
	}
	return openaiSDK.NewClient(
		option.WithAPIKey(cred.SecretMaterial),
		option.WithHTTPClient(httpClient),
	)
}

func (a *Adapter) Generate(ctx context.Context, cred *credential.Credential, req *unified.Request) (*unified.Response, error) {
	params := buildParams(req)
	client := a.client(cred)

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toUpstreamError(err)
	}
	return toUnifiedResponse(resp), nil
}

func (a *Adapter) GenerateStream(ctx context.Context, cred *credential.Credential, req *unified.Request) (<-chan unified.StreamEvent, error) {
	params := buildParams(req)
	client := a.client(cred)

	out := make(chan unified.StreamEvent, 64)
	stream := client.Chat.Completions.NewStreaming(ctx, params)

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
				out <- deltaEvent(c.Delta.Content, "", nil, &sentRole)
			}
			for _, tc := range c.Delta.ToolCalls {
				d := unified.ToolCallDelta{
					Index:     int(tc.Index),
					Arguments: tc.Function.Arguments,
				}
				if !toolStarted[tc.Index] {
					d.ID = tc.ID
					d.Name = tc.Function.Name
					toolStarted[tc.Index] = true
				}
				out <- deltaEvent("", "", []unified.ToolCallDelta{d}, &sentRole)
			}

			if c.FinishReason != "" {
				ev := unified.StreamEvent{Kind: unified.EventDelta, FinishReason: finishFromWire(string(c.FinishReason))}
				if chunk.Usage.TotalTokens > 0 {
					ev.Usage = &unified.Usage{
						InputTokens:  int(chunk.Usage.PromptTokens),
						OutputTokens: int(chunk.Usage.CompletionTokens),
					}
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

func deltaEvent(content, reasoning string, toolCalls []unified.ToolCallDelta, sentRole *bool) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Content: content, Reasoning: reasoning, ToolCalls: toolCalls}
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
	client := a.client(cred)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, toUpstreamError(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func buildParams(req *unified.Request) openaiSDK.ChatCompletionNewParams {
	params := openaiSDK.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: toSDKMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = openaiSDK.Float(*req.Temperature)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}
	if req.ToolChoice != nil {
		params.ToolChoice = toSDKToolChoice(*req.ToolChoice)
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
		case unified.RoleUser:
			out = append(out, openaiSDK.UserMessage(flattenText(m.Content)))
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
		Content: openaiSDK.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openaiSDK.String(flattenText(blocks)),
		},
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

func toSDKTools(tools []unified.Tool) []openaiSDK.ChatCompletionToolUnionParam {
	out := make([]openaiSDK.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openaiSDK.ChatCompletionFunctionTool(openaiSDK.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openaiSDK.String(t.Description),
			Parameters:  t.InputSchema,
		}))
	}
	return out
}

func toSDKToolChoice(tc unified.ToolChoice) openaiSDK.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Mode {
	case unified.ToolChoiceNone:
		return openaiSDK.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openaiSDK.String("none")}
	case unified.ToolChoiceRequired:
		return openaiSDK.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openaiSDK.String("required")}
	case unified.ToolChoiceName:
		return openaiSDK.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openaiSDK.ChatCompletionNamedToolChoiceParam{
				Function: openaiSDK.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			},
		}
	default:
		return openaiSDK.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openaiSDK.String("auto")}
	}
}

func toUnifiedResponse(resp *openaiSDK.ChatCompletion) *unified.Response {
	out := &unified.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: unified.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
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

func toUpstreamError(err error) error {
	statusCode := 0
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode
	}
	return adapter.ClassifyStatus(statusCode, fmt.Errorf("openai: %w", err))
}

// baseURLTransport rewrites every outgoing request's scheme+host+path
// prefix to target an OpenAI-compatible endpoint other than the real
// OpenAI API, grounded on the teacher's identical transport in
// internal/providers/openai.
type baseURLTransport struct {
	base *url.URL
	rt   http.RoundTripper
}

func newBaseURLTransport(next http.RoundTripper, base string) http.RoundTripper {
	u, err := url.Parse(base)
	if err != nil {
		return next
	}
	return &baseURLTransport{base: u, rt: next}
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	u2 := *req.URL
	u2.Scheme = t.base.Scheme
	u2.Host = t.base.Host

	basePath := strings.TrimRight(t.base.Path, "/")
	if basePath != "" && basePath != "/" {
		if !strings.HasPrefix(u2.Path, basePath+"/") && u2.Path != basePath {
			u2.Path = basePath + "/" + strings.TrimLeft(u2.Path, "/")
		}
	}
	r2.URL = &u2
	return t.rt.RoundTrip(r2)
}
