package reversechat

import "testing"

func TestTagScanner_WholeTagsInOneFragment(t *testing.T) {
	var s tagScanner
	var visible string

	visible += s.feed("hello <tool_call>{\"a\":1}</tool_call> world")
	visible += s.flush()

	if visible != "hello  world" {
		t.Fatalf("visible = %q, want %q", visible, "hello  world")
	}
	completed := s.Completed()
	if len(completed) != 1 || completed[0] != `{"a":1}` {
		t.Fatalf("completed = %v", completed)
	}
}

func TestTagScanner_TagSplitAcrossFragments(t *testing.T) {
	// Splits the open tag itself across two fragments: "<tool_c" | "all>".
	var s tagScanner
	fragments := []string{"before <tool_c", "all>payload</tool_", "call>after"}

	var visible string
	var completed []string
	for _, f := range fragments {
		visible += s.feed(f)
		completed = append(completed, s.Completed()...)
	}
	visible += s.flush()

	if visible != "before after" {
		t.Fatalf("visible = %q, want %q", visible, "before after")
	}
	if len(completed) != 1 || completed[0] != "payload" {
		t.Fatalf("completed = %v", completed)
	}
}

func TestTagScanner_CloseTagSplitAcrossFragments(t *testing.T) {
	var s tagScanner
	fragments := []string{"<tool_call>abc", "def</tool_call>"}

	var completed []string
	for _, f := range fragments {
		s.feed(f)
		completed = append(completed, s.Completed()...)
	}

	if len(completed) != 1 || completed[0] != "abcdef" {
		t.Fatalf("completed = %v", completed)
	}
}

func TestTagScanner_UnterminatedToolCallDropsOnFlush(t *testing.T) {
	var s tagScanner
	s.feed("<tool_call>partial")
	if out := s.flush(); out != "" {
		t.Fatalf("flush() = %q, want empty", out)
	}
}
