package credential

import (
	"testing"
	"time"
)

func TestNew_StartsHealthyAndEligible(t *testing.T) {
	c := New("openai", "sk-test")
	if c.UUID == "" {
		t.Error("expected a generated uuid")
	}
	if !c.Eligible(time.Now()) {
		t.Error("freshly created credential should be eligible")
	}
}

func TestEligible_Disabled(t *testing.T) {
	c := New("openai", "sk-test")
	c.IsDisabled = true
	if c.Eligible(time.Now()) {
		t.Error("disabled credential should not be eligible")
	}
}

func TestEligible_ExpiredBeyondSkew(t *testing.T) {
	c := New("anthropic", "token")
	past := time.Now().Add(-10 * time.Minute)
	c.SetExpiry(past)
	if c.Eligible(time.Now()) {
		t.Error("credential expired beyond the skew window should not be eligible")
	}
}

func TestEligible_ExpiryWithinSkew(t *testing.T) {
	c := New("anthropic", "token")
	c.SetExpiry(time.Now().Add(1 * time.Minute))
	if !c.Eligible(time.Now()) {
		t.Error("credential with expiry inside the skew window should still be eligible")
	}
}

func TestRecordFailure_QuarantinesAtThreshold(t *testing.T) {
	c := New("openai", "sk-test")
	now := time.Now()
	for i := 0; i < maxErrorCount-1; i++ {
		c.RecordFailure(now, "boom", false)
		if !c.Eligible(now) {
			t.Fatalf("should remain eligible before threshold, iteration %d", i)
		}
	}
	c.RecordFailure(now, "boom", false)
	if c.Eligible(now) {
		t.Error("should be quarantined after reaching the error threshold")
	}
}

func TestRecordFailure_ShouldSwitchQuarantinesImmediately(t *testing.T) {
	c := New("openai", "sk-test")
	now := time.Now()
	c.RecordFailure(now, "invalid api key", true)
	if c.Eligible(now) {
		t.Error("a shouldSwitchCredential failure should quarantine on the first occurrence")
	}
}

func TestRecordFailure_CooldownElapses(t *testing.T) {
	c := New("openai", "sk-test")
	now := time.Now()
	c.RecordFailure(now, "invalid api key", true)
	if c.Eligible(now) {
		t.Fatal("expected quarantined immediately after failure")
	}
	later := now.Add(quarantineMaxCooldown + time.Second)
	if !c.Eligible(later) {
		t.Error("expected eligible again once the cooldown window has elapsed")
	}
}

func TestRecordSuccess_ResetsQuarantine(t *testing.T) {
	c := New("openai", "sk-test")
	now := time.Now()
	for i := 0; i < maxErrorCount; i++ {
		c.RecordFailure(now, "boom", false)
	}
	if c.Eligible(now) {
		t.Fatal("expected quarantined")
	}
	c.RecordSuccess()
	if !c.Eligible(now) {
		t.Error("a recorded success should clear quarantine immediately")
	}
}

func TestSupportsModel(t *testing.T) {
	c := New("openai", "sk-test")
	if !c.SupportsModel("gpt-4o") {
		t.Error("nil SupportedModels should allow any model")
	}

	c.SupportedModels = map[string]struct{}{"gpt-4o": {}}
	if !c.SupportsModel("gpt-4o") {
		t.Error("expected gpt-4o to be supported")
	}
	if c.SupportsModel("gpt-3.5-turbo") {
		t.Error("expected gpt-3.5-turbo to be unsupported")
	}
}

func TestMarkUsed_UpdatesLastUsedAt(t *testing.T) {
	c := New("openai", "sk-test")
	now := time.Now()
	c.MarkUsed(now)
	if !c.LastUsedAt().Equal(now) {
		t.Errorf("expected last_used_at %v, got %v", now, c.LastUsedAt())
	}
}

func TestAcquireReleaseSlot(t *testing.T) {
	c := New("openai", "sk-test")
	if c.InFlightSlots() != 0 {
		t.Fatal("expected zero in-flight slots initially")
	}
	c.AcquireSlot()
	c.AcquireSlot()
	if c.InFlightSlots() != 2 {
		t.Errorf("expected 2 in-flight slots, got %d", c.InFlightSlots())
	}
	c.ReleaseSlot()
	if c.InFlightSlots() != 1 {
		t.Errorf("expected 1 in-flight slot after release, got %d", c.InFlightSlots())
	}
}

func TestSnap_ReflectsHealthFields(t *testing.T) {
	c := New("openai", "sk-test")
	c.CustomName = "primary"
	c.RecordFailure(time.Now(), "rate limited", false)

	snap := c.Snap()
	if snap.CustomName != "primary" {
		t.Errorf("expected custom name 'primary', got %q", snap.CustomName)
	}
	if snap.ErrorCount != 1 {
		t.Errorf("expected error_count 1, got %d", snap.ErrorCount)
	}
	if snap.LastErrorMsg != "rate limited" {
		t.Errorf("expected last error message preserved, got %q", snap.LastErrorMsg)
	}
}

func TestUsageSnapshot_RoundTrip(t *testing.T) {
	c := New("web-reverse", "cookie")
	if c.GetUsageSnapshot() != nil {
		t.Fatal("expected nil usage snapshot initially")
	}
	s := &UsageSnapshot{RefreshedAt: time.Now(), Fields: map[string]any{"remaining": 42}}
	c.SetUsageSnapshot(s)
	got := c.GetUsageSnapshot()
	if got == nil || got.Fields["remaining"] != 42 {
		t.Error("expected usage snapshot to round-trip")
	}
}
