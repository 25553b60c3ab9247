package refresher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

type fakeOAuth struct {
	calls      int32
	expiryErr  error
	nextExpiry time.Time
}

func (f *fakeOAuth) DoRefresh(ctx context.Context, cred *credential.Credential) (time.Time, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.expiryErr != nil {
		return time.Time{}, f.expiryErr
	}
	return f.nextExpiry, nil
}

func (f *fakeOAuth) IsExpiryNear(cred *credential.Credential, skew time.Duration) bool {
	if cred.TokenExpiry == nil {
		return true
	}
	return !cred.TokenExpiry.After(time.Now().Add(skew))
}

func TestRefresh_SkipsWhenNotNearExpiry(t *testing.T) {
	r := New(time.Minute, nil)
	impl := &fakeOAuth{}
	r.Register("anthropic", impl)

	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now().Add(time.Hour))

	if err := r.Refresh(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if impl.calls != 0 {
		t.Errorf("expected no refresh call for a token that isn't near expiry, got %d", impl.calls)
	}
}

func TestRefresh_CallsDoRefreshWhenNearExpiry(t *testing.T) {
	r := New(5*time.Minute, nil)
	want := time.Now().Add(2 * time.Hour)
	impl := &fakeOAuth{nextExpiry: want}
	r.Register("anthropic", impl)

	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now().Add(time.Minute))

	if err := r.Refresh(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if impl.calls != 1 {
		t.Errorf("expected exactly one refresh call, got %d", impl.calls)
	}
	if c.TokenExpiry == nil || !c.TokenExpiry.Equal(want) {
		t.Error("expected the credential's expiry to be updated to the new value")
	}
}

func TestForceRefresh_IgnoresExpiryCheck(t *testing.T) {
	r := New(time.Minute, nil)
	want := time.Now().Add(3 * time.Hour)
	impl := &fakeOAuth{nextExpiry: want}
	r.Register("anthropic", impl)

	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now().Add(24 * time.Hour)) // far from expiry

	if err := r.ForceRefresh(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if impl.calls != 1 {
		t.Errorf("expected ForceRefresh to call DoRefresh unconditionally, got %d calls", impl.calls)
	}
}

func TestRefresh_UnregisteredProviderKindIsNoop(t *testing.T) {
	r := New(time.Minute, nil)
	c := credential.New("unregistered-kind", "token")
	if err := r.Refresh(context.Background(), c); err != nil {
		t.Fatalf("expected no error for an unregistered provider kind, got %v", err)
	}
}

func TestRefresh_FailurePropagatesAndRecordsCredentialFailure(t *testing.T) {
	r := New(time.Minute, nil)
	impl := &fakeOAuth{expiryErr: errors.New("refresh endpoint unreachable")}
	r.Register("anthropic", impl)

	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now())

	err := r.Refresh(context.Background(), c)
	if err == nil {
		t.Fatal("expected the refresh error to propagate")
	}
	if got := c.Snap().ErrorCount; got != 1 {
		t.Errorf("expected the refresh failure to be recorded on the credential, got error_count %d", got)
	}
}

func TestRefresh_ConcurrentCallsAreSingleFlighted(t *testing.T) {
	r := New(time.Minute, nil)
	impl := &fakeOAuth{nextExpiry: time.Now().Add(time.Hour)}
	r.Register("anthropic", impl)

	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now())

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_ = r.Refresh(context.Background(), c)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	// Single-flighting collapses concurrent callers sharing the same
	// in-flight key into at most a couple of real round trips rather than n.
	if atomic.LoadInt32(&impl.calls) >= n {
		t.Errorf("expected singleflight to collapse concurrent refreshes, got %d calls for %d goroutines", impl.calls, n)
	}
}

func TestIsExpiryNear(t *testing.T) {
	r := New(5*time.Minute, nil)
	impl := &fakeOAuth{}
	r.Register("anthropic", impl)

	c := credential.New("anthropic", "token")
	c.SetExpiry(time.Now().Add(time.Minute))
	if !r.IsExpiryNear(c) {
		t.Error("expected IsExpiryNear to report true for a soon-to-expire token")
	}

	c.SetExpiry(time.Now().Add(time.Hour))
	if r.IsExpiryNear(c) {
		t.Error("expected IsExpiryNear to report false for a far-future expiry")
	}
}
