package unified

// ToolChoiceMode selects how the model should use the declared Tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceName     ToolChoiceMode = "name" // a specific tool, see ToolChoice.Name
)

// ToolChoice mirrors spec §3: auto | none | required | {name}.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // populated iff Mode == ToolChoiceName
}

// Tool is one function the model may call.
type Tool struct {
	Name        string
	Description string
	// InputSchema is the tool's JSON Schema, stored as a decoded map so the
	// Prefix-Cache Accountant can canonicalize it deterministically.
	InputSchema map[string]any
}

// Request is the canonical, dialect-independent chat request.
type Request struct {
	Model string

	// System is the system prompt. Dialects that carry it as a top-level
	// string collapse System to a single text block on ingest; dialects
	// that allow a block sequence (Anthropic-style) preserve it as such.
	System []Block

	Messages []Message

	Tools      []Tool
	ToolChoice *ToolChoice

	Stream      bool
	Temperature *float64
	MaxTokens   *int

	// Extra preserves provider-opaque fields verbatim across translation,
	// so a round trip through a dialect the gateway doesn't interpret
	// doesn't silently drop data.
	Extra map[string]any

	// UserID carries the caller-supplied user identifier used to derive a
	// prefix-cache session id (§4.5).
	UserID string
}
