package prefixcache

import (
	"strings"
	"testing"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// markerTokenizer counts tokens by substring marker rather than length, so
// tests can pin exact cumulative token counts regardless of how a block
// happens to serialize for hashing.
type markerTokenizer map[string]int

func (m markerTokenizer) Count(text string) (int, error) {
	for marker, n := range m {
		if strings.Contains(text, marker) {
			return n, nil
		}
	}
	return 0, nil
}

// TestComputeBreakpoints_PrefixIndependence reproduces the "Prefix
// independence" scenario: two requests sharing a cache_control-marked
// prefix but differing only in their uncached tail must produce the same
// single breakpoint, hash and tokens included.
func TestComputeBreakpoints_PrefixIndependence(t *testing.T) {
	tok := markerTokenizer{"prefix": 10, "tail-A": 5, "tail-B-different": 5}

	reqA := &unified.Request{
		Messages: []unified.Message{{
			Role: unified.RoleUser,
			Content: []unified.Block{
				{Kind: unified.BlockText, Text: "prefix", CacheControl: &unified.CacheControl{TTL: "5m"}},
				{Kind: unified.BlockText, Text: "tail-A"},
			},
		}},
	}
	reqB := &unified.Request{
		Messages: []unified.Message{{
			Role: unified.RoleUser,
			Content: []unified.Block{
				{Kind: unified.BlockText, Text: "prefix", CacheControl: &unified.CacheControl{TTL: "5m"}},
				{Kind: unified.BlockText, Text: "tail-B-different"},
			},
		}},
	}

	bpA, totalA := ComputeBreakpoints(reqA, tok)
	bpB, totalB := ComputeBreakpoints(reqB, tok)

	if len(bpA) != 1 || len(bpB) != 1 {
		t.Fatalf("expected exactly one breakpoint each, got %d and %d", len(bpA), len(bpB))
	}
	if bpA[0].Hash != bpB[0].Hash {
		t.Errorf("breakpoint hash depends on uncached tail: %q != %q", bpA[0].Hash, bpB[0].Hash)
	}
	if bpA[0].CumulativeTokens != bpB[0].CumulativeTokens {
		t.Errorf("breakpoint cumulative tokens depend on uncached tail: %d != %d", bpA[0].CumulativeTokens, bpB[0].CumulativeTokens)
	}
	if totalA != totalB {
		t.Errorf("total tokens differ even though both tails are 5 tokens: %d != %d", totalA, totalB)
	}
}

// TestComputeBreakpoints_TotalIncludesUncachedTail guards against the
// specific regression where the returned total only summed tokens up to
// the last cache_control marker, making the uncached suffix invisible to
// uncached_input_tokens accounting.
func TestComputeBreakpoints_TotalIncludesUncachedTail(t *testing.T) {
	tok := markerTokenizer{"alpha-marker": 100, "beta-marker": 50, "gamma-tail": 50}

	req := &unified.Request{
		Messages: []unified.Message{{
			Role: unified.RoleUser,
			Content: []unified.Block{
				{Kind: unified.BlockText, Text: "alpha-marker", CacheControl: &unified.CacheControl{TTL: "5m"}},
				{Kind: unified.BlockText, Text: "beta-marker", CacheControl: &unified.CacheControl{TTL: "5m"}},
				{Kind: unified.BlockText, Text: "gamma-tail"},
			},
		}},
	}

	breakpoints, total := ComputeBreakpoints(req, tok)

	if len(breakpoints) != 2 {
		t.Fatalf("expected 2 breakpoints, got %d", len(breakpoints))
	}
	if breakpoints[0].CumulativeTokens != 100 {
		t.Errorf("breakpoint 1 cumulative = %d, want 100", breakpoints[0].CumulativeTokens)
	}
	if breakpoints[1].CumulativeTokens != 150 {
		t.Errorf("breakpoint 2 cumulative = %d, want 150", breakpoints[1].CumulativeTokens)
	}
	if total != 200 {
		t.Errorf("total = %d, want 200 (100+50 marked plus 50 uncached tail)", total)
	}
}
