package reversechat

import "strings"

const (
	toolCallOpenTag  = "<tool_call>"
	toolCallCloseTag = "</tool_call>"
	// lookback is long enough to hold any prefix of either tag split across
	// two fragments; the scanner never needs to buffer more than this.
	lookback = len(toolCallCloseTag) - 1
)

// tagScanner detects <tool_call>/</tool_call> markers that may be split
// across separate token fragments from the upstream stream (spec §9, open
// question 2), without scanning each fragment in isolation. It holds a
// short tail of previously-seen text so a tag straddling a fragment
// boundary is still recognised once the rest of it arrives, and
// accumulates a captured tool-call body across as many fragments as it
// takes to see the closing tag.
type tagScanner struct {
	inToolCall   bool
	tail         string
	capturing    strings.Builder
	completed    []string
}

// feed processes one token fragment and returns the text that should be
// emitted as visible output (content outside any tool-call block). Any
// tool-call body completed during this call is appended to Completed().
func (s *tagScanner) feed(fragment string) string {
	combined := s.tail + fragment
	var out strings.Builder

	for {
		if !s.inToolCall {
			idx := strings.Index(combined, toolCallOpenTag)
			if idx < 0 {
				break
			}
			out.WriteString(combined[:idx])
			combined = combined[idx+len(toolCallOpenTag):]
			s.inToolCall = true
			continue
		}
		idx := strings.Index(combined, toolCallCloseTag)
		if idx < 0 {
			break
		}
		s.capturing.WriteString(combined[:idx])
		s.completed = append(s.completed, s.capturing.String())
		s.capturing.Reset()
		combined = combined[idx+len(toolCallCloseTag):]
		s.inToolCall = false
	}

	// Keep only enough tail to catch a tag boundary split across the next
	// fragment; everything earlier is safe to flush now.
	if len(combined) > lookback {
		flushLen := len(combined) - lookback
		if s.inToolCall {
			s.capturing.WriteString(combined[:flushLen])
		} else {
			out.WriteString(combined[:flushLen])
		}
		combined = combined[flushLen:]
	}
	s.tail = combined

	return out.String()
}

// Completed drains and returns every tool-call body closed so far.
func (s *tagScanner) Completed() []string {
	out := s.completed
	s.completed = nil
	return out
}

// flush releases any buffered tail text, called once the stream ends. If
// the stream ended mid tool-call (malformed upstream output), the
// unterminated capture is discarded rather than treated as visible text.
func (s *tagScanner) flush() string {
	out := s.tail
	s.tail = ""
	if s.inToolCall {
		return ""
	}
	return out
}
