// Package unified defines the canonical request/response schema that sits
// between the Dialect Translator and the Upstream Adapters. Every dialect
// converts into and out of this form; nothing else in the gateway should
// need to know which wire dialect a request originally arrived in.
package unified

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind tags the variant held by a Block.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockInputAudio BlockKind = "input_audio"
	BlockFile       BlockKind = "file"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// CacheControl marks a block as a prompt-cache boundary: "the prefix up to
// and including this block is a cache breakpoint".
type CacheControl struct {
	// TTL is "5m" or "1h" per the Anthropic-style dialect.
	TTL string
}

// Block is a tagged union over the seven content variants of §3. Only the
// fields relevant to Kind are populated; the rest are zero values.
type Block struct {
	Kind BlockKind

	// BlockText
	Text string

	// BlockImage / BlockFile / BlockInputAudio
	URL  string // present when the source is a remote reference
	Data string // base64 payload, present when the source is inline
	Mime string

	// BlockThinking
	Signature string

	// BlockToolUse
	ToolUseID   string
	ToolName    string
	ToolArgsRaw string // verbatim JSON object or string, dialect-dependent
	// ToolArgsIsString records whether ToolArgsRaw was carried as a JSON
	// *string* (OpenAI-style function-call arguments) rather than a JSON
	// object, so a round trip back to the same dialect never re-serializes
	// and drifts from the original bytes.
	ToolArgsIsString bool

	// BlockToolResult
	ToolCallID string
	IsError    bool
	// ToolResultContent holds the tool result payload as a block sequence
	// so multimodal tool results (e.g. an image a tool returned) survive
	// translation like any other content.
	ToolResultContent []Block

	CacheControl *CacheControl
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role
	Content []Block

	// Name is only meaningful on tool-role messages in some dialects.
	Name string
	// ToolCallID is only meaningful on tool-role messages: which tool_use
	// block this result answers.
	ToolCallID string
}

// Text is a convenience constructor for a single-block text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []Block{{Kind: BlockText, Text: text}}}
}

// PlainText concatenates all text blocks in a message, ignoring other kinds.
// Useful for dialects/adapters that only understand flat strings.
func (m Message) PlainText() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}
