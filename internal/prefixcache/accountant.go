package prefixcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"

	"github.com/nulpointcorp/llm-gateway/internal/cache"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// Accountant runs the lookup/create algorithm of spec §4.5 against an
// external key-value store. It never fails the request path: store read
// errors surface as misses and write errors are ignored, as
// internal/cache.ExactCache reports them. An unavailable store therefore
// reads as a cold cache: read is 0 and every marked prefix is counted as
// creation, not as uncached.
type Accountant struct {
	store cache.Cache
	tok   Tokenizer
}

// New builds an Accountant over store. store is typically an
// internal/cache.ExactCache pointed at the same Redis the teacher's
// response cache uses, but any Cache implementation works.
func New(store cache.Cache, tok Tokenizer) *Accountant {
	if tok == nil {
		tok = NewTokenizer()
	}
	return &Accountant{store: store, tok: tok}
}

// Account computes the cache_read/cache_creation/uncached token breakdown
// for req under sessionID, mutating the key-value store's breakpoint
// entries as a side effect (spec §4.5 "Lookup/create algorithm").
func (a *Accountant) Account(ctx context.Context, sessionID string, req *unified.Request) unified.Usage {
	breakpoints, total := ComputeBreakpoints(req, a.tok)
	if len(breakpoints) == 0 {
		return unified.Usage{UncachedInputTokens: total}
	}

	usage := unified.Usage{}
	hitIndex := -1

	for i := len(breakpoints) - 1; i >= 0; i-- {
		key := cacheKey(sessionID, breakpoints[i].Hash)
		raw, ok := a.store.Get(ctx, key)
		if !ok {
			continue
		}
		stored, err := strconv.Atoi(string(raw))
		if err != nil {
			continue
		}
		usage.CacheReadInputTokens = stored
		_ = a.store.Set(ctx, key, raw, breakpoints[i].TTL)
		hitIndex = i
		break
	}

	prev := 0
	if hitIndex >= 0 {
		prev = breakpoints[hitIndex].CumulativeTokens
		for i := hitIndex + 1; i < len(breakpoints); i++ {
			a.storeBreakpoint(ctx, sessionID, breakpoints[i])
			usage.CacheCreationInputTokens += breakpoints[i].CumulativeTokens - prev
			prev = breakpoints[i].CumulativeTokens
		}
	} else {
		for i, bp := range breakpoints {
			a.storeBreakpoint(ctx, sessionID, bp)
			if i > 0 {
				usage.CacheCreationInputTokens += bp.CumulativeTokens - breakpoints[i-1].CumulativeTokens
			} else {
				usage.CacheCreationInputTokens += bp.CumulativeTokens
			}
		}
	}

	usage.UncachedInputTokens = total - usage.CacheReadInputTokens - usage.CacheCreationInputTokens
	if usage.UncachedInputTokens < 0 {
		usage.UncachedInputTokens = 0
	}
	return usage
}

func (a *Accountant) storeBreakpoint(ctx context.Context, sessionID string, bp Breakpoint) {
	key := cacheKey(sessionID, bp.Hash)
	_ = a.store.Set(ctx, key, []byte(strconv.Itoa(bp.CumulativeTokens)), bp.TTL)
}

func cacheKey(sessionID, hash string) string {
	return "cache:" + sessionID + ":" + hash
}

var sessionUUIDPattern = regexp.MustCompile(`_session_([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

// SessionID derives a session identifier from a caller-supplied user id
// (spec §4.5): if userID embeds "..._session_<UUID>...", the UUID is
// extracted; otherwise the session id is sha256(userID), hex-encoded.
func SessionID(userID string) string {
	if m := sessionUUIDPattern.FindStringSubmatch(userID); m != nil {
		return m[1]
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
