package reversechat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// internalTagPattern strips the backend's inline metadata tags from any
// text before it reaches the translator (spec §4.4).
var internalTagPattern = regexp.MustCompile(`</?(?:xai:tool_usage_card|rolloutId|responseId|isThinking)\b[^>]*>`)

// schemeless matches an asset path with no scheme, e.g. "/assets/img/a.png".
var schemeless = regexp.MustCompile(`^/[^/].*`)

// responseState is the per-response-id reconstruction state for one
// upstream stream. It is a value owned by the streaming goroutine in
// GenerateStream; nothing outside that goroutine reads or writes it
// (spec §5, §9: "a cleaner design makes per-stream state a value owned
// by the stream task").
type responseState struct {
	scanner      tagScanner
	toolCalls    []string
	imageActive  bool
	videoActive  bool
	sentRole     bool
}

func (a *Adapter) GenerateStream(ctx context.Context, cred *credential.Credential, req *unified.Request) (<-chan unified.StreamEvent, error) {
	secret := decodeSecret(cred.SecretMaterial)
	prompt, err := a.buildPrompt(ctx, secret, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"prompt":        prompt.Prompt,
		"attachmentIds": prompt.AttachmentIDs,
		"model":         req.Model,
		"stream":        true,
	})
	if err != nil {
		return nil, fmt.Errorf("reversechat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyBrowserHeaders(httpReq, secret, a.BaseURL)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, adapter.ClassifyStatus(0, fmt.Errorf("reversechat: %w", err))
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, adapter.ClassifyStatus(resp.StatusCode, fmt.Errorf("reversechat: chat: status %d", resp.StatusCode))
	}

	out := make(chan unified.StreamEvent, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		states := map[string]*responseState{}
		stateFor := func(id string) *responseState {
			st, ok := states[id]
			if !ok {
				st = &responseState{}
				states[id] = st
			}
			return st
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			line = strings.TrimPrefix(line, "data:")
			line = strings.TrimSpace(line)
			if line == "" || line == "[DONE]" {
				continue
			}
			if !gjson.Valid(line) {
				continue
			}
			ev := gjson.Parse(line)
			respID := ev.Get("responseId").String()
			st := stateFor(respID)

			for _, delta := range a.applyEvent(st, ev) {
				out <- delta
			}

			if ev.Get("isDone").Bool() {
				for _, delta := range finalizeResponse(st) {
					out <- delta
				}
				delete(states, respID)
			}
		}

		if err := scanner.Err(); err != nil {
			out <- unified.StreamEvent{Kind: unified.EventDelta, FinishReason: unified.FinishError, Warning: err.Error()}
			return
		}
		// A stream that closes without any isDone marker for a still-open
		// response finalizes that response exactly as if isDone had arrived.
		for _, st := range states {
			for _, delta := range finalizeResponse(st) {
				out <- delta
			}
		}
	}()

	return out, nil
}

// applyEvent implements the event-state table of spec §4.4 for one raw
// upstream event, returning zero or more deltas to emit.
func (a *Adapter) applyEvent(st *responseState, ev gjson.Result) []unified.StreamEvent {
	var deltas []unified.StreamEvent

	if token := ev.Get("token"); token.Exists() {
		text := stripInternalTags(token.String())
		thinking := ev.Get("isThinking").Bool() || st.imageActive
		if thinking {
			if text != "" {
				deltas = append(deltas, st.reasoningDelta(text))
			}
		} else if text != "" {
			visible := st.scanner.feed(text)
			for _, tc := range st.scanner.Completed() {
				st.toolCalls = append(st.toolCalls, tc)
			}
			if visible != "" {
				deltas = append(deltas, st.contentDelta(visible))
			}
		}
	}

	switch ev.Get("imageGenerationStatus").String() {
	case "in_progress":
		st.imageActive = true
		deltas = append(deltas, st.reasoningDelta("generating image…"))
	case "completed":
		st.imageActive = false
	}

	switch ev.Get("videoGenerationStatus").String() {
	case "in_progress":
		st.videoActive = true
	case "completed":
		st.videoActive = false
		if url := rewriteAssetURL(a.BaseURL, ev.Get("videoUrl").String()); url != "" {
			deltas = append(deltas, st.contentDelta(fmt.Sprintf("[video](%s)", url)))
		}
	}

	if urls := ev.Get("imageUrls"); urls.Exists() && urls.IsArray() {
		var links []string
		for _, u := range urls.Array() {
			if url := rewriteAssetURL(a.BaseURL, u.String()); url != "" {
				links = append(links, fmt.Sprintf("![image](%s)", url))
			}
		}
		if len(links) > 0 {
			deltas = append(deltas, st.contentDelta(strings.Join(links, "\n")))
		}
	}

	if card := ev.Get("card"); card.Exists() {
		if text := stripInternalTags(card.String()); text != "" {
			deltas = append(deltas, st.contentDelta(text))
		}
	}

	return deltas
}

func (st *responseState) contentDelta(text string) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Content: text}
	st.markRole(&ev)
	return ev
}

func (st *responseState) reasoningDelta(text string) unified.StreamEvent {
	ev := unified.StreamEvent{Kind: unified.EventDelta, Reasoning: text}
	st.markRole(&ev)
	return ev
}

func (st *responseState) markRole(ev *unified.StreamEvent) {
	if !st.sentRole {
		ev.Role = unified.RoleAssistant
		st.sentRole = true
	}
}

// finalizeResponse implements the isDone row: flush any trailing visible
// text, parse every captured tool-call body, and emit the terminal delta.
func finalizeResponse(st *responseState) []unified.StreamEvent {
	var deltas []unified.StreamEvent
	if trailing := st.scanner.flush(); trailing != "" {
		deltas = append(deltas, st.contentDelta(trailing))
	}

	if len(st.toolCalls) == 0 {
		ev := unified.StreamEvent{Kind: unified.EventDelta, FinishReason: unified.FinishStop}
		st.markRole(&ev)
		return append(deltas, ev)
	}

	calls := make([]unified.ToolCallDelta, 0, len(st.toolCalls))
	for i, raw := range st.toolCalls {
		var parsed struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			continue
		}
		args := string(parsed.Arguments)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, unified.ToolCallDelta{
			Index:     i,
			ID:        "call_" + uuid.New().String(),
			Name:      parsed.Name,
			Arguments: args,
		})
	}

	ev := unified.StreamEvent{Kind: unified.EventDelta, ToolCalls: calls, FinishReason: unified.FinishToolCalls}
	st.markRole(&ev)
	return append(deltas, ev)
}

func stripInternalTags(s string) string {
	return internalTagPattern.ReplaceAllString(s, "")
}

// rewriteAssetURL rewrites a scheme-less asset path to an absolute URL
// rooted at base (spec §4.4: "rewritten to an absolute asset URL").
func rewriteAssetURL(base, url string) string {
	if url == "" {
		return ""
	}
	if strings.Contains(url, "://") {
		return url
	}
	if schemeless.MatchString(url) {
		return strings.TrimSuffix(base, "/") + url
	}
	return url
}
