// Package reversechat is the reverse-engineered web-chat upstream adapter
// (spec §4.4, "the complicated one"): it speaks to a backend with no
// public API by impersonating a browser session, collapsing the Unified
// message sequence into one prompt, and reconstructing a clean stream of
// Unified deltas out of a noisy event sequence.
//
// Grounded on the teacher's internal/providers/openaicompat for the
// "configurable base URL, bearer-style secret material" adapter shape and
// on internal/proxy/gateway.go's writeSSE closure for keeping per-stream
// state local to the owning goroutine rather than in a package-level map
// (spec §5: "owned by its owning stream task; no other task reads or
// writes it").
package reversechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

const (
	providerKind   = "reversechat"
	requestTimeout = 120 * time.Second
)

// secretMaterial is the decoded shape of credential.Credential.SecretMaterial
// for this adapter: a cookie pair rather than a bearer token (spec §3's
// "a cookie pair for the reverse web-chat adapter").
type secretMaterial struct {
	Cookie    string `json:"cookie"`
	UserAgent string `json:"user_agent"`
}

// Adapter implements adapter.Adapter against one reverse-engineered
// web-chat backend.
type Adapter struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a reverse web-chat Adapter against baseURL, e.g.
// "https://chat.example.com".
func New(baseURL string) *Adapter {
	return &Adapter{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: requestTimeout}}
}

func (a *Adapter) ProviderKind() string { return providerKind }

func decodeSecret(raw string) secretMaterial {
	var s secretMaterial
	_ = json.Unmarshal([]byte(raw), &s)
	if s.UserAgent == "" {
		s.UserAgent = defaultUserAgent
	}
	return s
}

func (a *Adapter) Generate(ctx context.Context, cred *credential.Credential, req *unified.Request) (*unified.Response, error) {
	ch, err := a.GenerateStream(ctx, cred, req)
	if err != nil {
		return nil, err
	}

	resp := &unified.Response{ID: uuid.New().String(), Model: req.Model}
	var content []unified.Block
	var textBuf bytes.Buffer
	finish := unified.FinishStop

	for ev := range ch {
		textBuf.WriteString(ev.Content)
		if ev.FinishReason == unified.FinishError {
			return nil, fmt.Errorf("reversechat: %s", ev.Warning)
		}
		if len(ev.ToolCalls) > 0 {
			for _, tc := range ev.ToolCalls {
				content = append(content, unified.Block{
					Kind:        unified.BlockToolUse,
					ToolUseID:   tc.ID,
					ToolName:    tc.Name,
					ToolArgsRaw: tc.Arguments,
				})
			}
		}
		if ev.FinishReason != "" {
			finish = ev.FinishReason
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
		}
	}

	if textBuf.Len() > 0 {
		content = append([]unified.Block{{Kind: unified.BlockText, Text: textBuf.String()}}, content...)
	}
	resp.Choices = []unified.Choice{{
		Message:      unified.Message{Role: unified.RoleAssistant, Content: content},
		FinishReason: finish,
	}}
	return resp, nil
}

func (a *Adapter) ListModels(ctx context.Context, cred *credential.Credential) ([]string, error) {
	secret := decodeSecret(cred.SecretMaterial)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	applyBrowserHeaders(httpReq, secret, a.BaseURL)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, adapter.ClassifyStatus(0, fmt.Errorf("reversechat: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, adapter.ClassifyStatus(resp.StatusCode, fmt.Errorf("reversechat: list models: status %d", resp.StatusCode))
	}

	var body struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("reversechat: decode models: %w", err)
	}
	return body.Models, nil
}
