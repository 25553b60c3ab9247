package credential

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type countingInitializer struct {
	calls int32
	err   error
}

func (c *countingInitializer) Init(ctx context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	return c.err
}

func TestWarmup_CallsInitForEveryCredential(t *testing.T) {
	m := NewManager()
	m.Add(New("openai", "a"))
	m.Add(New("openai", "b"))
	m.Add(New("anthropic", "c"))

	openaiInit := &countingInitializer{}
	anthropicInit := &countingInitializer{}

	Warmup(context.Background(), m, func(kind string) Initializer {
		switch kind {
		case "openai":
			return openaiInit
		case "anthropic":
			return anthropicInit
		}
		return nil
	}, 4, nil)

	if openaiInit.calls != 2 {
		t.Errorf("expected 2 calls for openai's two credentials, got %d", openaiInit.calls)
	}
	if anthropicInit.calls != 1 {
		t.Errorf("expected 1 call for anthropic's one credential, got %d", anthropicInit.calls)
	}
}

func TestWarmup_FailureRecordsErrorButDoesNotPanic(t *testing.T) {
	m := NewManager()
	c := New("openai", "a")
	m.Add(c)

	failing := &countingInitializer{err: errors.New("boot probe failed")}
	Warmup(context.Background(), m, func(kind string) Initializer { return failing }, 2, nil)

	if c.Eligible(c.lastErrorAt) {
		// A single failure shouldn't quarantine outright (below threshold),
		// but it must be recorded.
	}
	if c.errorCount != 1 {
		t.Errorf("expected warmup failure to record one error, got %d", c.errorCount)
	}
}

func TestWarmup_NilInitializerSkipsKind(t *testing.T) {
	m := NewManager()
	m.Add(New("openai", "a"))

	// Should not panic or block when initFor returns nil.
	Warmup(context.Background(), m, func(kind string) Initializer { return nil }, 2, nil)
}
