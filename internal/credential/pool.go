package credential

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNoHealthyCredential is returned when no eligible credential exists for
// a provider kind, even after consulting the fallback chain (spec §4.2).
var ErrNoHealthyCredential = errors.New("credential: no healthy credential available")

// FallbackRule is one entry of a provider kind's failover chain: try
// AltProviderKind instead, optionally rewriting the requested model.
type FallbackRule struct {
	AltProviderKind string
	ModelRewrite    func(model string) string
}

// SelectOptions tunes one Select call.
type SelectOptions struct {
	// SkipUsageCount, when true, selects a credential without updating its
	// last_used_at (used for read-only probes).
	SkipUsageCount bool
	// AcquireSlot, when true, reserves a concurrency slot on the returned
	// credential. The caller must call ReleaseSlot on every exit path.
	AcquireSlot bool
}

// Result is the outcome of a successful Select.
type Result struct {
	Credential     *Credential
	ActualProvider string
	ActualModel    string
	IsFallback     bool
}

// Manager owns one credential pool per provider kind and serializes all
// mutations to a kind's pool behind a per-kind mutex. Readers take a
// snapshot under the lock and release it before doing any I/O, per the
// spec's concurrency model (§5) and re-architecture note (§9).
type Manager struct {
	mu       sync.Mutex // guards kinds map structure only
	kinds    map[string]*kindPool
	fallback map[string][]FallbackRule

	now func() time.Time
}

type kindPool struct {
	mu          sync.Mutex
	credentials []*Credential
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		kinds:    make(map[string]*kindPool),
		fallback: make(map[string][]FallbackRule),
		now:      time.Now,
	}
}

// Add registers a credential into its provider kind's pool. Credentials are
// created by config load (spec §3 Lifecycle) — Add is the only way new
// credentials enter the pool; there is no request-path creation path.
func (m *Manager) Add(c *Credential) {
	m.poolFor(c.ProviderKind).add(c)
}

func (m *Manager) poolFor(kind string) *kindPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	kp, ok := m.kinds[kind]
	if !ok {
		kp = &kindPool{}
		m.kinds[kind] = kp
	}
	return kp
}

func (kp *kindPool) add(c *Credential) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	kp.credentials = append(kp.credentials, c)
}

// SetFallbackChain configures the ordered list of alternate provider kinds
// tried when kind's pool has no eligible credential (spec §4.2).
func (m *Manager) SetFallbackChain(kind string, rules []FallbackRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback[kind] = rules
}

// All returns a snapshot of every credential currently registered for kind.
// Used by health sweeps and the admin surface (out of scope, but the read
// path is exposed for the warmup/background-sweep callers in-scope here).
func (m *Manager) All(kind string) []*Credential {
	kp := m.poolFor(kind)
	kp.mu.Lock()
	defer kp.mu.Unlock()
	out := make([]*Credential, len(kp.credentials))
	copy(out, kp.credentials)
	return out
}

// AllKinds returns every provider kind with at least one registered
// credential.
func (m *Manager) AllKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.kinds))
	for k, kp := range m.kinds {
		kp.mu.Lock()
		n := len(kp.credentials)
		kp.mu.Unlock()
		if n > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Select picks an eligible credential for (kind, model) per spec §4.2:
// least-recently-used among eligible, model-support filter, fallback chain
// on exhaustion. The critical section only touches in-memory state; any
// I/O (adapter calls) happens after Select returns.
func (m *Manager) Select(kind, model string, opts SelectOptions) (*Result, error) {
	if cred, ok := m.selectDirect(kind, model, opts); ok {
		return &Result{Credential: cred, ActualProvider: kind, ActualModel: model}, nil
	}

	m.mu.Lock()
	rules := append([]FallbackRule(nil), m.fallback[kind]...)
	m.mu.Unlock()

	for _, rule := range rules {
		altModel := model
		if rule.ModelRewrite != nil {
			altModel = rule.ModelRewrite(model)
		}
		if cred, ok := m.selectDirect(rule.AltProviderKind, altModel, opts); ok {
			return &Result{
				Credential:     cred,
				ActualProvider: rule.AltProviderKind,
				ActualModel:    altModel,
				IsFallback:     true,
			}, nil
		}
	}

	return nil, ErrNoHealthyCredential
}

// selectDirect performs the LRU-eligible selection for a single provider
// kind, with no fallback. Returns ok=false when the pool is empty or has
// no eligible member.
func (m *Manager) selectDirect(kind, model string, opts SelectOptions) (*Credential, bool) {
	kp := m.poolFor(kind)
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := m.now()
	var best *Credential
	var bestUsed time.Time

	for _, c := range kp.credentials {
		if !c.eligibleUnlocked(now) {
			continue
		}
		if !c.SupportsModel(model) {
			continue
		}
		used := c.LastUsedAt()
		if best == nil || used.Before(bestUsed) {
			best = c
			bestUsed = used
		}
	}

	if best == nil {
		return nil, false
	}

	if !opts.SkipUsageCount {
		best.MarkUsed(now)
	}
	if opts.AcquireSlot {
		best.AcquireSlot()
	}
	return best, true
}

// eligibleUnlocked is Eligible but callable while the pool lock (not the
// credential's own lock) is held; Credential keeps its own internal mutex
// so this is just Eligible under a different caller-held lock.
func (c *Credential) eligibleUnlocked(now time.Time) bool {
	return c.Eligible(now)
}
