// Package refresher implements the Token Refresher (spec §4.3):
// single-flight background refresh of OAuth access tokens, de-duplicated
// per credential uuid via golang.org/x/sync/singleflight — the sibling
// package of the errgroup the teacher already imports in internal/app.
package refresher

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

// Refreshable is implemented by adapters whose credentials carry an OAuth
// (or OAuth-like) token that must be periodically refreshed.
type Refreshable interface {
	// DoRefresh performs the provider-specific HTTP refresh call and
	// returns the new expiry. Implementations persist the new access token
	// onto cred themselves (e.g. via cred.SetExpiry and their own secret
	// storage) before returning.
	DoRefresh(ctx context.Context, cred *credential.Credential) (newExpiry time.Time, err error)
	// IsExpiryNear reports whether cred needs a refresh soon. For
	// credentials whose "expiry" is really a usage-snapshot freshness
	// window (spec §4.3), the adapter implements that comparison here
	// instead of relying on TokenExpiry.
	IsExpiryNear(cred *credential.Credential, skew time.Duration) bool
}

// Refresher coordinates single-flight refreshes across all credentials of
// all registered providers.
type Refresher struct {
	group singleflight.Group

	providers map[string]Refreshable
	skew      time.Duration
	log       *slog.Logger
}

// New creates a Refresher with the given near-expiry skew window.
func New(skew time.Duration, log *slog.Logger) *Refresher {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{providers: make(map[string]Refreshable), skew: skew, log: log}
}

// Register binds a provider kind to its Refreshable implementation.
func (r *Refresher) Register(providerKind string, impl Refreshable) {
	r.providers[providerKind] = impl
}

// Refresh refreshes cred if and only if its token is near expiry. Multiple
// concurrent callers for the same credential join a single in-flight HTTP
// round trip (spec §8 Invariants: "at most one refresh is in flight at a
// time across all concurrent callers").
func (r *Refresher) Refresh(ctx context.Context, cred *credential.Credential) error {
	impl, ok := r.providers[cred.ProviderKind]
	if !ok {
		return nil
	}
	if !impl.IsExpiryNear(cred, r.skew) {
		return nil
	}
	return r.doRefresh(ctx, cred, impl)
}

// ForceRefresh refreshes cred unconditionally, skipping the near-expiry
// check, but still single-flighted.
func (r *Refresher) ForceRefresh(ctx context.Context, cred *credential.Credential) error {
	impl, ok := r.providers[cred.ProviderKind]
	if !ok {
		return nil
	}
	return r.doRefresh(ctx, cred, impl)
}

// IsExpiryNear exposes the per-adapter near-expiry check.
func (r *Refresher) IsExpiryNear(cred *credential.Credential) bool {
	impl, ok := r.providers[cred.ProviderKind]
	if !ok {
		return false
	}
	return impl.IsExpiryNear(cred, r.skew)
}

func (r *Refresher) doRefresh(ctx context.Context, cred *credential.Credential, impl Refreshable) error {
	_, err, _ := r.group.Do(cred.UUID, func() (any, error) {
		expiry, err := impl.DoRefresh(ctx, cred)
		if err != nil {
			// Refresh failure increments the error counter but does not by
			// itself quarantine (spec §4.3) — a subsequent request will.
			cred.RecordFailure(time.Now(), err.Error(), false)
			r.log.Warn("token_refresh_failed",
				slog.String("uuid", cred.UUID),
				slog.String("provider_kind", cred.ProviderKind),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		cred.SetExpiry(expiry)
		r.log.Info("token_refreshed",
			slog.String("uuid", cred.UUID),
			slog.String("provider_kind", cred.ProviderKind),
			slog.Time("new_expiry", expiry),
		)
		return nil, nil
	})
	return err
}
