// Package adapter defines the common surface every upstream integration
// implements (spec §4.4) and hosts the direct per-vendor adapters plus the
// reverse-engineered web-chat adapter as subpackages.
package adapter

import (
	"context"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// Adapter is implemented by every upstream integration, direct SDK-backed
// or reverse-engineered alike. A single Adapter instance is shared across
// all credentials of its provider kind; the credential to act as is passed
// into every call so the adapter stays stateless between requests.
type Adapter interface {
	// ProviderKind identifies the upstream this adapter talks to, matching
	// the credential.Credential.ProviderKind values the pool groups by.
	ProviderKind() string

	// Generate performs a single non-streaming completion.
	Generate(ctx context.Context, cred *credential.Credential, req *unified.Request) (*unified.Response, error)

	// GenerateStream performs a streaming completion. The returned channel
	// is closed when the stream ends, whether normally or on error; a
	// terminal failure is delivered as a final delta event with
	// FinishReason set to unified.FinishError.
	GenerateStream(ctx context.Context, cred *credential.Credential, req *unified.Request) (<-chan unified.StreamEvent, error)

	// ListModels returns the model identifiers this credential can serve.
	ListModels(ctx context.Context, cred *credential.Credential) ([]string, error)
}

// UsageLimiter is optionally implemented by adapters that can report
// provider-reported quota/usage information (spec §4.4's usage-snapshot
// concept, used most concretely by the reverse web-chat adapter).
type UsageLimiter interface {
	GetUsageLimits(ctx context.Context, cred *credential.Credential) (*credential.UsageSnapshot, error)
}

// TokenCounter is optionally implemented by adapters whose upstream offers
// a dedicated token-counting endpoint (the Anthropic count_tokens route).
type TokenCounter interface {
	CountTokens(ctx context.Context, cred *credential.Credential, req *unified.Request) (int, error)
}

// Refreshable mirrors refresher.Refreshable so adapters with real OAuth
// tokens can be registered with the refresher without an import cycle
// (refresher only needs the method set, not this package).
type Refreshable interface {
	DoRefresh(ctx context.Context, cred *credential.Credential) (time.Time, error)
	IsExpiryNear(cred *credential.Credential, skew time.Duration) bool
}
