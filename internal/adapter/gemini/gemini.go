// Package gemini is the direct Gemini-dialect upstream adapter (spec
// §4.4), wrapping the official google.golang.org/genai SDK the way the
// teacher's internal/providers/gemini package does, generalized from flat
// message strings to unified.Block sequences with tool-call support and
// from a client pinned to one configured key to a *credential.Credential
// supplied per call.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/"
	providerKind   = "gemini"
	requestTimeout = 120 * time.Second
)

// Adapter implements adapter.Adapter for direct Gemini credentials.
type Adapter struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// New creates a Gemini Adapter. baseURL empty means the default.
func New(baseURL string) *Adapter {
	base, ver := splitBaseURLAndVersion(baseURL)
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{baseURL: base, apiVersion: ver, httpClient: &http.Client{Timeout: requestTimeout}}
}

func (a *Adapter) ProviderKind() string { return providerKind }

func (a *Adapter) client(ctx context.Context, cred *credential.Credential) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cred.SecretMaterial,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  a.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: a.baseURL, APIVersion: a.apiVersion},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}
	return client, nil
}

func (a *Adapter) Generate(ctx context.Context, cred *credential.Credential, req *unified.Request) (*unified.Response, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}
	contents, cfg := buildContentsAndConfig(req)

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, toUpstreamError(err)
	}
	return toUnifiedResponse(resp, req.Model), nil
}

func (a *Adapter) GenerateStream(ctx context.Context, cred *credential.Credential, req *unified.Request) (<-chan unified.StreamEvent, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}
	contents, cfg := buildContentsAndConfig(req)

	out := make(chan unified.StreamEvent, 64)
	go func() {
		defer close(out)
		var sentRole bool

		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				out <- unified.StreamEvent{Kind: unified.EventDelta, FinishReason: unified.FinishError, Warning: err.Error()}
				return
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
				continue
			}
			c := resp.Candidates[0]

			text, toolCalls := candidateParts(c)
			if text != "" || len(toolCalls) > 0 {
				ev := deltaEvent(text, toolCalls, &sentRole)
				out <- ev
			}

			if c.FinishReason != "" {
				ev := unified.StreamEvent{Kind: unified.EventDelta, FinishReason: finishFromWire(string(c.FinishReason), len(toolCalls) > 0)}
				if resp.UsageMetadata != nil {
					ev.Usage = &unified.Usage{
						InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
						OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					}
				}
				out <- ev
			}
		}
	}()

	return out, nil
}

func deltaEvent(text string, toolCalls []unified.ToolCallDelta, sentRole *bool) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Content: text, ToolCalls: toolCalls}
	if !*sentRole {
		ev.Role = unified.RoleAssistant
		*sentRole = true
	}
	return ev
}

func (a *Adapter) ListModels(ctx context.Context, cred *credential.Credential) ([]string, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}
	page, err := client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 100})
	if err != nil {
		return nil, toUpstreamError(err)
	}
	models := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		models = append(models, m.Name)
	}
	return models, nil
}

func buildContentsAndConfig(req *unified.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == unified.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: toSDKParts(m.Content)})
	}

	cfg := &genai.GenerateContentConfig{}
	if len(req.System) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: toSDKParts(req.System)}
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = toSDKTools(req.Tools)
	}
	return contents, cfg
}

func toSDKParts(blocks []unified.Block) []*genai.Part {
	out := make([]*genai.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case unified.BlockText:
			out = append(out, &genai.Part{Text: b.Text})
		case unified.BlockImage:
			if b.Data != "" {
				out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: b.Mime, Data: []byte(b.Data)}})
			}
		case unified.BlockToolUse:
			args, _ := jsonObject(b.ToolArgsRaw)
			out = append(out, &genai.Part{FunctionCall: &genai.FunctionCall{Name: b.ToolName, Args: args}})
		case unified.BlockToolResult:
			resp := map[string]any{"result": flattenText(b.ToolResultContent)}
			out = append(out, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: b.ToolCallID, Response: resp}})
		}
	}
	if len(out) == 0 {
		out = append(out, &genai.Part{Text: ""})
	}
	return out
}

func toSDKTools(tools []unified.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// schemaFromMap builds a minimal genai.Schema from the decoded JSON Schema
// map a Tool carries, enough to round trip object/properties/required —
// the gateway never needs to validate against it upstream, only forward
// it.
func schemaFromMap(m map[string]any) *genai.Schema {
	if len(m) == 0 {
		return nil
	}
	s := &genai.Schema{}
	if typ, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(typ))
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = map[string]*genai.Schema{}
		for k, v := range props {
			if sub, ok := v.(map[string]any); ok {
				s.Properties[k] = schemaFromMap(sub)
			}
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
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

func candidateParts(c *genai.Candidate) (string, []unified.ToolCallDelta) {
	if c.Content == nil {
		return "", nil
	}
	var sb strings.Builder
	var calls []unified.ToolCallDelta
	for i, p := range c.Content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" {
			sb.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			raw, _ := jsonMarshal(p.FunctionCall.Args)
			calls = append(calls, unified.ToolCallDelta{Index: i, ID: p.FunctionCall.Name, Name: p.FunctionCall.Name, Arguments: raw})
		}
	}
	return sb.String(), calls
}

func finishFromWire(reason string, hadToolCall bool) unified.FinishReason {
	if hadToolCall {
		return unified.FinishToolCalls
	}
	if reason == "MAX_TOKENS" {
		return unified.FinishLength
	}
	return unified.FinishStop
}

func toUnifiedResponse(resp *genai.GenerateContentResponse, model string) *unified.Response {
	out := &unified.Response{ID: resp.ResponseID, Model: model}
	if resp.UsageMetadata != nil {
		out.Usage = unified.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, c := range resp.Candidates {
		text, toolCalls := candidateParts(c)
		var content []unified.Block
		if text != "" {
			content = append(content, unified.Block{Kind: unified.BlockText, Text: text})
		}
		finish := finishFromWire(string(c.FinishReason), len(toolCalls) > 0)
		for _, tc := range toolCalls {
			content = append(content, unified.Block{
				Kind:        unified.BlockToolUse,
				ToolUseID:   tc.Name,
				ToolName:    tc.Name,
				ToolArgsRaw: tc.Arguments,
			})
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
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		statusCode = apiErr.Code
	}
	return adapter.ClassifyStatus(statusCode, fmt.Errorf("gemini: %w", err))
}

func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	if raw == "" {
		return "", ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}
	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]
	if looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}
	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}
	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}
