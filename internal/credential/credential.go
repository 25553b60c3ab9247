// Package credential implements the Credential Pool Manager (spec §4.2): a
// concurrency-safe registry of interchangeable secret materials per
// provider kind, with health tracking, quarantine, and failover chains.
//
// The locking discipline follows the teacher's own circuit-breaker package
// doc comment ("snapshot-then-release before performing I/O") — every
// mutation happens under a short per-provider-kind critical section and no
// network I/O is ever attempted while holding a lock.
package credential

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HealthState is the coarse health classification of a Credential.
type HealthState string

const (
	HealthOK          HealthState = "ok"
	HealthQuarantined HealthState = "quarantined"
)

// Credential is one set of secret materials identifying an account at one
// upstream provider (spec §3).
type Credential struct {
	UUID         string
	ProviderKind string

	// SecretMaterial is adapter-specific: an API key string, a JSON blob of
	// OAuth tokens, or a cookie pair for the reverse web-chat adapter.
	// Adapters type-assert or JSON-decode this themselves.
	SecretMaterial string

	CustomName string
	IsDisabled bool

	// SupportedModels is nil when the credential serves every model the
	// provider kind offers; non-nil restricts selection to that set.
	SupportedModels map[string]struct{}

	TokenExpiry *time.Time

	mu            sync.Mutex
	healthState   HealthState
	errorCount    int
	lastErrorAt   time.Time
	lastErrorMsg  string
	lastUsedAt    time.Time
	quarantineAt  time.Time
	quarantineN   int // consecutive quarantine count, for exponential cooldown
	usageSnapshot *UsageSnapshot
	inFlightSlots int32
}

// UsageSnapshot is advisory usage/quota information refreshed on a
// schedule and on demand (spec §3 Lifecycle).
type UsageSnapshot struct {
	RefreshedAt time.Time
	// Fields beyond RefreshedAt are adapter-specific and stored as a map so
	// this package doesn't need to know every provider's quota shape.
	Fields map[string]any
}

// New creates a Credential in a healthy state with a fresh uuid.
func New(providerKind, secretMaterial string) *Credential {
	return &Credential{
		UUID:         uuid.New().String(),
		ProviderKind: providerKind,
		SecretMaterial: secretMaterial,
		healthState:  HealthOK,
	}
}

const (
	maxErrorCount        = 5
	expirySkew           = 2 * time.Minute
	quarantineBaseCooldown = 2 * time.Second
	quarantineMaxCooldown  = 30 * time.Second
)

// Eligible reports whether the credential may currently be selected (spec
// §3 Invariants): not disabled, not quarantined (or cooldown elapsed), and
// not expired beyond the skew window.
func (c *Credential) Eligible(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eligibleLocked(now)
}

func (c *Credential) eligibleLocked(now time.Time) bool {
	if c.IsDisabled {
		return false
	}
	if c.healthState == HealthQuarantined {
		if now.Before(c.quarantineAt.Add(c.cooldownLocked())) {
			return false
		}
		// Cooldown elapsed — the credential becomes eligible again but stays
		// "quarantined" in name until a success clears it via RecordSuccess,
		// matching a half-open probe rather than an unconditional reopen.
	}
	if c.TokenExpiry != nil && !c.TokenExpiry.After(now.Add(-expirySkew)) {
		return false
	}
	return true
}

func (c *Credential) cooldownLocked() time.Duration {
	d := quarantineBaseCooldown << c.quarantineN
	if d > quarantineMaxCooldown || d <= 0 {
		return quarantineMaxCooldown
	}
	return d
}

// SupportsModel reports whether model is servable by this credential.
func (c *Credential) SupportsModel(model string) bool {
	if model == "" || c.SupportedModels == nil {
		return true
	}
	_, ok := c.SupportedModels[model]
	return ok
}

// MarkUsed updates last_used_at. Called atomically with selection under the
// pool's lock.
func (c *Credential) MarkUsed(now time.Time) {
	c.mu.Lock()
	c.lastUsedAt = now
	c.mu.Unlock()
}

// LastUsedAt returns the last selection time.
func (c *Credential) LastUsedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

// RecordSuccess resets error_count to 0 and clears the quarantine state
// (spec §3 Invariants: "a success resets it to 0").
func (c *Credential) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount = 0
	c.lastErrorMsg = ""
	c.healthState = HealthOK
	c.quarantineN = 0
}

// RecordFailure applies an upstream error to this credential's health.
// shouldSwitchCredential quarantines immediately (auth/quota-exhaustion
// per spec §4.2); otherwise error_count increments and quarantine begins
// once maxErrorCount is reached.
func (c *Credential) RecordFailure(now time.Time, msg string, shouldSwitchCredential bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
	c.lastErrorAt = now
	c.lastErrorMsg = msg
	if shouldSwitchCredential || c.errorCount >= maxErrorCount {
		c.quarantineLocked(now)
	}
}

func (c *Credential) quarantineLocked(now time.Time) {
	wasQuarantined := c.healthState == HealthQuarantined
	c.healthState = HealthQuarantined
	c.quarantineAt = now
	if wasQuarantined {
		c.quarantineN++
	}
}

// Snapshot is a read-only copy of the credential's health fields, safe to
// hold after the pool's lock is released.
type Snapshot struct {
	UUID         string
	ProviderKind string
	CustomName   string
	IsDisabled   bool
	HealthState  HealthState
	ErrorCount   int
	LastErrorAt  time.Time
	LastErrorMsg string
	LastUsedAt   time.Time
}

// Snap returns a Snapshot of the credential's current health fields.
func (c *Credential) Snap() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		UUID:         c.UUID,
		ProviderKind: c.ProviderKind,
		CustomName:   c.CustomName,
		IsDisabled:   c.IsDisabled,
		HealthState:  c.healthState,
		ErrorCount:   c.errorCount,
		LastErrorAt:  c.lastErrorAt,
		LastErrorMsg: c.lastErrorMsg,
		LastUsedAt:   c.lastUsedAt,
	}
}

// SetUsageSnapshot stores an advisory usage snapshot (spec §3 Lifecycle).
func (c *Credential) SetUsageSnapshot(s *UsageSnapshot) {
	c.mu.Lock()
	c.usageSnapshot = s
	c.mu.Unlock()
}

// GetUsageSnapshot returns the last stored usage snapshot, or nil.
func (c *Credential) GetUsageSnapshot() *UsageSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usageSnapshot
}

// AcquireSlot reserves a concurrency slot. Always succeeds (the spec does
// not define a fixed per-credential capacity beyond "callers must release
// on completion"); capacity-limited use is left to callers that wish to
// check InFlightSlots before acquiring.
func (c *Credential) AcquireSlot() {
	atomic.AddInt32(&c.inFlightSlots, 1)
}

// ReleaseSlot releases a previously acquired slot. Must be called exactly
// once per AcquireSlot on every exit path, including cancellation.
func (c *Credential) ReleaseSlot() {
	atomic.AddInt32(&c.inFlightSlots, -1)
}

// InFlightSlots returns the current number of unreleased slots.
func (c *Credential) InFlightSlots() int32 {
	return atomic.LoadInt32(&c.inFlightSlots)
}

// SetExpiry sets the OAuth token expiry, used by the Token Refresher.
func (c *Credential) SetExpiry(t time.Time) {
	c.mu.Lock()
	c.TokenExpiry = &t
	c.mu.Unlock()
}
