package prefixcache

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

const (
	defaultTTL = 300 * time.Second
	longTTL    = 3600 * time.Second

	// billingHeaderSentinel marks a system entry that must never be hashed
	// (spec §4.5 rule 2: "must not poison the cache").
	billingHeaderSentinel = "x-gateway-billing-header"
)

// Breakpoint is one cache boundary: the cumulative hash and token count up
// to and including a cache_control-marked block.
type Breakpoint struct {
	Hash             string
	CumulativeTokens int
	TTL              time.Duration
}

// ComputeBreakpoints feeds the cumulative hasher with tools, system text,
// then message blocks in order (spec §4.5 rule 1), and returns one
// Breakpoint per cache_control-marked block plus the total token count of
// the whole request — every block, marked or not, counts toward the total
// returned, since uncached_input_tokens needs total_request_tokens to cover
// the uncached suffix too. Blocks after the last cache_control marker are
// still token-counted but never hashed, so the cached prefix's identity
// never depends on the uncached suffix (spec §4.5's "crucial property").
func ComputeBreakpoints(req *unified.Request, tok Tokenizer) ([]Breakpoint, int) {
	lastMarked := lastCacheControlIndex(req)

	h := NewCumulativeHasher()
	var breakpoints []Breakpoint
	totalTokens := 0

	countText := func(text string) int {
		n, err := tok.Count(text)
		if err != nil {
			n = approximateTokenCount(text)
		}
		return n
	}

	feed := func(text string) {
		h.Write([]byte(text))
		totalTokens += countText(text)
	}

	tools := make([]unified.Tool, len(req.Tools))
	copy(tools, req.Tools)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	for _, t := range tools {
		feed("name:" + t.Name + "|desc:" + t.Description + "|schema:" + canonicalJSON(t.InputSchema))
	}

	for _, b := range req.System {
		if b.Kind == unified.BlockText && b.Text == billingHeaderSentinel {
			continue
		}
		feed(blockHashText(b))
	}

	seq := flattenBlocks(req)
	for i := 0; i < len(seq); i++ {
		if lastMarked < 0 || i > lastMarked {
			// Past the last cache_control marker: still counts toward the
			// request's total token count (spec §4.5's uncached_input_tokens
			// needs the whole request), but never hashed, so the cached
			// prefix's identity never depends on this uncached tail.
			totalTokens += countText(blockHashText(seq[i]))
			continue
		}
		feed(blockHashText(seq[i]))
		if seq[i].CacheControl != nil {
			ttl := defaultTTL
			if seq[i].CacheControl.TTL == "1h" {
				ttl = longTTL
			}
			breakpoints = append(breakpoints, Breakpoint{
				Hash:             h.Sum(),
				CumulativeTokens: totalTokens,
				TTL:              ttl,
			})
		}
	}

	return breakpoints, totalTokens
}

// flattenBlocks returns every content block across every message, in
// message order and block order.
func flattenBlocks(req *unified.Request) []unified.Block {
	var out []unified.Block
	for _, m := range req.Messages {
		out = append(out, m.Content...)
	}
	return out
}

func lastCacheControlIndex(req *unified.Request) int {
	last := -1
	i := 0
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.CacheControl != nil {
				last = i
			}
			i++
		}
	}
	return last
}

// blockHashText serialises a block via canonical JSON with cache_control
// stripped, so the marker itself never alters the hash (spec §4.5 rule 3).
func blockHashText(b unified.Block) string {
	stripped := b
	stripped.CacheControl = nil
	raw, err := json.Marshal(blockForHash(stripped))
	if err != nil {
		return stripped.Text
	}
	return string(raw)
}

// blockForHash projects a Block to a plain map so field order never
// affects the byte-for-byte JSON (encoding/json sorts struct fields by
// declaration order, not content, which is stable but not what canonical
// hashing wants for forward-compatibility) and zero-value fields are
// dropped instead of hashing as empty strings for every block kind.
func blockForHash(b unified.Block) map[string]any {
	m := map[string]any{"kind": string(b.Kind)}
	if b.Text != "" {
		m["text"] = b.Text
	}
	if b.URL != "" {
		m["url"] = b.URL
	}
	if b.Data != "" {
		m["data"] = b.Data
	}
	if b.Mime != "" {
		m["mime"] = b.Mime
	}
	if b.ToolUseID != "" {
		m["tool_use_id"] = b.ToolUseID
	}
	if b.ToolName != "" {
		m["tool_name"] = b.ToolName
	}
	if b.ToolArgsRaw != "" {
		m["tool_args"] = b.ToolArgsRaw
	}
	if b.ToolCallID != "" {
		m["tool_call_id"] = b.ToolCallID
	}
	return m
}
