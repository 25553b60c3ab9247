package reversechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// collapsedPrompt is the single-prompt payload the backend accepts (spec
// §4.4: "Collapses the Unified message sequence into a single prompt
// string, because the backend accepts only one user message per turn").
type collapsedPrompt struct {
	Prompt        string
	AttachmentIDs []string
}

// buildPrompt implements the five collapsing rules of spec §4.4 in order.
func (a *Adapter) buildPrompt(ctx context.Context, secret secretMaterial, req *unified.Request) (*collapsedPrompt, error) {
	var lines []string

	if sys := toolSystemBlock(req); sys != "" {
		lines = append(lines, sys)
	}

	var attachmentIDs []string
	n := len(req.Messages)
	for i, m := range req.Messages {
		isLastUser := i == n-1 && m.Role == unified.RoleUser
		text, ids, err := a.renderMessage(ctx, secret, m, isLastUser)
		if err != nil {
			return nil, err
		}
		attachmentIDs = append(attachmentIDs, ids...)
		if text != "" {
			lines = append(lines, text)
		}
	}

	return &collapsedPrompt{Prompt: strings.Join(lines, "\n"), AttachmentIDs: attachmentIDs}, nil
}

// toolSystemBlock generates the Markdown tool schema and tool_choice
// description prepended as a system block (spec §4.4 rule 3).
func toolSystemBlock(req *unified.Request) string {
	if len(req.Tools) == 0 {
		return ""
	}
	tools := make([]unified.Tool, len(req.Tools))
	copy(tools, req.Tools)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	var b strings.Builder
	b.WriteString("system: You have access to the following tools. To call one, emit ")
	b.WriteString("<tool_call>{\"name\": ..., \"arguments\": {...}}</tool_call>.\n")
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		fmt.Fprintf(&b, "- **%s**: %s\n  schema: `%s`\n", t.Name, t.Description, schema)
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case unified.ToolChoiceNone:
			b.WriteString("Do not call any tool for this turn.\n")
		case unified.ToolChoiceRequired:
			b.WriteString("You must call a tool for this turn.\n")
		case unified.ToolChoiceName:
			fmt.Fprintf(&b, "You must call the tool %q for this turn.\n", req.ToolChoice.Name)
		}
	}
	return b.String()
}

// renderMessage applies rules 1, 2, and 4 for one message, and rule 5 for
// any image/file blocks it carries.
func (a *Adapter) renderMessage(ctx context.Context, secret secretMaterial, m unified.Message, isLastUser bool) (string, []string, error) {
	var attachmentIDs []string
	var textParts []string

	for _, b := range m.Content {
		switch b.Kind {
		case unified.BlockText, unified.BlockThinking:
			textParts = append(textParts, b.Text)
		case unified.BlockToolUse:
			// Rule 1: prior assistant tool calls become <tool_call> segments.
			textParts = append(textParts, fmt.Sprintf(`<tool_call>{"name":%q,"arguments":%s}</tool_call>`, b.ToolName, orEmptyObject(b.ToolArgsRaw)))
		case unified.BlockToolResult:
			textParts = append(textParts, flattenResultText(b.ToolResultContent))
		case unified.BlockImage, unified.BlockFile:
			id, err := a.uploadAttachment(ctx, secret, b)
			if err != nil {
				return "", nil, err
			}
			attachmentIDs = append(attachmentIDs, id)
		}
	}

	text := strings.Join(textParts, "\n")

	switch m.Role {
	case unified.RoleTool:
		// Rule 2: tool-role messages become user-role lines prefixed
		// "tool (name, id): ...".
		return fmt.Sprintf("tool (%s, %s): %s", m.Name, m.ToolCallID, text), attachmentIDs, nil
	case unified.RoleUser:
		if isLastUser {
			// Rule 4: the final user message is emitted verbatim.
			return text, attachmentIDs, nil
		}
		return "user: " + text, attachmentIDs, nil
	case unified.RoleAssistant:
		return "assistant: " + text, attachmentIDs, nil
	default:
		return "system: " + text, attachmentIDs, nil
	}
}

func orEmptyObject(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}

func flattenResultText(blocks []unified.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Kind == unified.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// uploadAttachment sends one image/file block to POST /upload-file (spec
// §4.4 rule 5) and returns the backend-assigned attachment id.
func (a *Adapter) uploadAttachment(ctx context.Context, secret secretMaterial, b unified.Block) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"data":      b.Data,
		"mime_type": b.Mime,
		"url":       b.URL,
	})
	if err != nil {
		return "", fmt.Errorf("reversechat: marshal upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/upload-file", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyBrowserHeaders(httpReq, secret, a.BaseURL)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("reversechat: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("reversechat: upload: status %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("reversechat: decode upload response: %w", err)
	}
	return body.ID, nil
}
