package credential

import (
	"errors"
	"testing"
	"time"
)

func TestSelect_PicksLeastRecentlyUsed(t *testing.T) {
	m := NewManager()
	a := New("openai", "sk-a")
	b := New("openai", "sk-b")
	m.Add(a)
	m.Add(b)

	a.MarkUsed(time.Now())

	res, err := m.Select("openai", "", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credential.UUID != b.UUID {
		t.Error("expected the never-used credential to be picked over the recently-used one")
	}
}

func TestSelect_SkipsIneligible(t *testing.T) {
	m := NewManager()
	a := New("openai", "sk-a")
	a.IsDisabled = true
	b := New("openai", "sk-b")
	m.Add(a)
	m.Add(b)

	res, err := m.Select("openai", "", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credential.UUID != b.UUID {
		t.Error("expected the disabled credential to be skipped")
	}
}

func TestSelect_FiltersByModelSupport(t *testing.T) {
	m := NewManager()
	a := New("openai", "sk-a")
	a.SupportedModels = map[string]struct{}{"gpt-4o-mini": {}}
	m.Add(a)

	if _, err := m.Select("openai", "gpt-4o", SelectOptions{}); !errors.Is(err, ErrNoHealthyCredential) {
		t.Errorf("expected ErrNoHealthyCredential, got %v", err)
	}

	res, err := m.Select("openai", "gpt-4o-mini", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credential.UUID != a.UUID {
		t.Error("expected the model-supporting credential to be selected")
	}
}

func TestSelect_NoCredentialsReturnsErr(t *testing.T) {
	m := NewManager()
	if _, err := m.Select("openai", "", SelectOptions{}); !errors.Is(err, ErrNoHealthyCredential) {
		t.Errorf("expected ErrNoHealthyCredential for empty pool, got %v", err)
	}
}

func TestSelect_FallsBackToAlternateKind(t *testing.T) {
	m := NewManager()
	alt := New("openaicompat", "sk-alt")
	m.Add(alt)
	m.SetFallbackChain("openai", []FallbackRule{
		{AltProviderKind: "openaicompat", ModelRewrite: func(model string) string { return "compat/" + model }},
	})

	res, err := m.Select("openai", "gpt-4o", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFallback {
		t.Error("expected IsFallback to be true")
	}
	if res.ActualProvider != "openaicompat" {
		t.Errorf("expected actual provider openaicompat, got %s", res.ActualProvider)
	}
	if res.ActualModel != "compat/gpt-4o" {
		t.Errorf("expected rewritten model, got %s", res.ActualModel)
	}
}

func TestSelect_SkipUsageCountDoesNotUpdateLastUsedAt(t *testing.T) {
	m := NewManager()
	a := New("openai", "sk-a")
	m.Add(a)

	before := a.LastUsedAt()
	if _, err := m.Select("openai", "", SelectOptions{SkipUsageCount: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.LastUsedAt().Equal(before) {
		t.Error("SkipUsageCount should leave last_used_at untouched")
	}
}

func TestSelect_AcquireSlotReservesSlot(t *testing.T) {
	m := NewManager()
	a := New("openai", "sk-a")
	m.Add(a)

	res, err := m.Select("openai", "", SelectOptions{AcquireSlot: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credential.InFlightSlots() != 1 {
		t.Errorf("expected 1 in-flight slot after AcquireSlot select, got %d", res.Credential.InFlightSlots())
	}
}

func TestAllKinds_SortedAndDeduped(t *testing.T) {
	m := NewManager()
	m.Add(New("openai", "a"))
	m.Add(New("anthropic", "b"))
	m.Add(New("openai", "c"))

	kinds := m.AllKinds()
	if len(kinds) != 2 {
		t.Fatalf("expected 2 distinct kinds, got %v", kinds)
	}
	if kinds[0] != "anthropic" || kinds[1] != "openai" {
		t.Errorf("expected sorted [anthropic openai], got %v", kinds)
	}
}
