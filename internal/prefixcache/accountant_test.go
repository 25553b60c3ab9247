package prefixcache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// memStore is a minimal in-memory cache.Cache for exercising Accountant
// without a real Redis connection.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.data[key]
	return v, ok
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

// TestAccount_CacheHitAccounting reproduces spec §8's "Cache hit
// accounting" scenario: a request whose first breakpoint is already
// present in the store (a prior turn's cache creation) must report that
// breakpoint's tokens as a read and only the tokens after it as a
// creation; a second, identical call must then read the now-stored second
// breakpoint in full.
func TestAccount_CacheHitAccounting(t *testing.T) {
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
	if len(breakpoints) != 2 || total != 200 {
		t.Fatalf("fixture invariant broken: got %d breakpoints, total %d", len(breakpoints), total)
	}

	store := newMemStore()
	store.data[cacheKey("s1", breakpoints[0].Hash)] = []byte(strconv.Itoa(100))

	a := New(store, tok)

	first := a.Account(context.Background(), "s1", req)
	if first.CacheReadInputTokens != 100 || first.CacheCreationInputTokens != 50 || first.UncachedInputTokens != 50 {
		t.Errorf("first call = %+v, want {read:100 creation:50 uncached:50}", first)
	}

	second := a.Account(context.Background(), "s1", req)
	if second.CacheReadInputTokens != 150 || second.CacheCreationInputTokens != 0 || second.UncachedInputTokens != 50 {
		t.Errorf("second call = %+v, want {read:150 creation:0 uncached:50}", second)
	}
}

// TestAccount_NoBreakpoints verifies the fast path: a request with no
// cache_control markers never touches the store and reports everything as
// uncached.
func TestAccount_NoBreakpoints(t *testing.T) {
	tok := markerTokenizer{"plain": 42}
	req := &unified.Request{
		Messages: []unified.Message{unified.Text(unified.RoleUser, "plain")},
	}

	usage := New(newMemStore(), tok).Account(context.Background(), "s1", req)
	if usage.UncachedInputTokens != 42 || usage.CacheReadInputTokens != 0 || usage.CacheCreationInputTokens != 0 {
		t.Errorf("got %+v, want {read:0 creation:0 uncached:42}", usage)
	}
}

// TestSessionID covers spec §8's "Session normalisation" scenario.
func TestSessionID(t *testing.T) {
	got := SessionID("abc_session_123e4567-e89b-12d3-a456-426614174000")
	want := "123e4567-e89b-12d3-a456-426614174000"
	if got != want {
		t.Errorf("SessionID(embedded uuid) = %q, want %q", got, want)
	}

	got = SessionID("plain-user-id")
	if len(got) != 64 {
		t.Errorf("SessionID(plain) = %q, want 64 hex chars", got)
	}
}
