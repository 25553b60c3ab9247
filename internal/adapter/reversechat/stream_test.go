package reversechat

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// TestStreamToolCallReconstruction implements the concrete scenario from
// spec §8: a token sequence that opens and closes a <tool_call> block
// mid-stream, followed by trailing content and a finalisation marker.
func TestStreamToolCallReconstruction(t *testing.T) {
	a := &Adapter{BaseURL: "https://chat.example.com"}
	st := &responseState{}

	events := []string{
		`{"token":"Hello "}`,
		`{"token":"<tool_call>"}`,
		`{"token":"{\"name\":\"search\",\"arguments\":{\"q\":\"x\"}}"}`,
		`{"token":"</tool_call>"}`,
		`{"token":" done"}`,
	}

	var deltas []unified.StreamEvent
	for _, raw := range events {
		deltas = append(deltas, a.applyEvent(st, gjson.Parse(raw))...)
	}
	deltas = append(deltas, finalizeResponse(st)...)

	if len(deltas) != 3 {
		t.Fatalf("got %d deltas, want 3: %+v", len(deltas), deltas)
	}

	if deltas[0].Role != unified.RoleAssistant || deltas[0].Content != "Hello " {
		t.Fatalf("delta 0 = %+v", deltas[0])
	}
	if deltas[1].Role != "" || deltas[1].Content != " done" {
		t.Fatalf("delta 1 = %+v", deltas[1])
	}
	if deltas[2].FinishReason != unified.FinishToolCalls || len(deltas[2].ToolCalls) != 1 {
		t.Fatalf("delta 2 = %+v", deltas[2])
	}
	tc := deltas[2].ToolCalls[0]
	if tc.Name != "search" || tc.Arguments != `{"q":"x"}` {
		t.Fatalf("tool call = %+v", tc)
	}
}

func TestStreamPlainCompletionHasNoToolCalls(t *testing.T) {
	a := &Adapter{}
	st := &responseState{}

	deltas := a.applyEvent(st, gjson.Parse(`{"token":"just text"}`))
	deltas = append(deltas, finalizeResponse(st)...)

	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2: %+v", len(deltas), deltas)
	}
	if deltas[1].FinishReason != unified.FinishStop || len(deltas[1].ToolCalls) != 0 {
		t.Fatalf("terminal delta = %+v", deltas[1])
	}
}

func TestStripInternalTags(t *testing.T) {
	in := `before<rolloutId value="x"/>middle<isThinking>true</isThinking>after`
	got := stripInternalTags(in)
	want := "beforemiddletrueafter"
	if got != want {
		t.Fatalf("stripInternalTags(%q) = %q, want %q", in, got, want)
	}
}

func TestRewriteAssetURL(t *testing.T) {
	cases := []struct {
		base, url, want string
	}{
		{"https://chat.example.com", "/assets/a.png", "https://chat.example.com/assets/a.png"},
		{"https://chat.example.com", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"https://chat.example.com", "", ""},
	}
	for _, c := range cases {
		if got := rewriteAssetURL(c.base, c.url); got != c.want {
			t.Errorf("rewriteAssetURL(%q, %q) = %q, want %q", c.base, c.url, got, c.want)
		}
	}
}
