package refresher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

func TestScheduler_SweepRefreshesNearExpiryCredentials(t *testing.T) {
	r := New(5*time.Minute, nil)
	impl := &fakeOAuth{nextExpiry: time.Now().Add(time.Hour)}
	r.Register("anthropic", impl)

	m := credential.NewManager()
	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now())
	m.Add(c)

	s := NewScheduler(r, m, time.Hour, nil)
	s.sweepOnce(context.Background())

	if atomic.LoadInt32(&impl.calls) != 1 {
		t.Errorf("expected sweepOnce to refresh the near-expiry credential, got %d calls", impl.calls)
	}
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	r := New(time.Minute, nil)
	m := credential.NewManager()
	s := NewScheduler(r, m, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after context cancellation")
	}
}

func TestScheduler_Stop(t *testing.T) {
	r := New(time.Minute, nil)
	m := credential.NewManager()
	s := NewScheduler(r, m, time.Millisecond, nil)

	finished := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(finished)
	}()

	s.Stop()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after Stop")
	}
}
