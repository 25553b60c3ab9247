package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// responseCacheKey builds a deterministic key for req's normalized content,
// the same "marshal the fields that determine the response, hash, prefix"
// shape as the teacher's buildCacheKey — generalized from the teacher's flat
// role/content messages to unified.Request's block sequences, and dropping
// the teacher's workspace/API-key-id fields since this gateway has no
// per-client tenancy concept (one shared gateway key, spec §4.6 step 1) for
// buildCacheKey to isolate callers by.
//
// Grounded on internal/proxy/gateway.go's buildCacheKey. The "respcache:"
// prefix (vs. the Prefix-Cache Accountant's "cache:" prefix) keeps the two
// subsystems' keys from colliding when both point at the same Redis.
func responseCacheKey(req *unified.Request) string {
	data, _ := json.Marshal(struct {
		Model       string          `json:"model"`
		System      []unified.Block `json:"system"`
		Messages    []unified.Message `json:"messages"`
		Tools       []unified.Tool  `json:"tools"`
		Temperature *float64        `json:"temperature"`
		MaxTokens   *int            `json:"max_tokens"`
	}{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	sum := sha256.Sum256(data)
	return "respcache:" + hex.EncodeToString(sum[:])
}
