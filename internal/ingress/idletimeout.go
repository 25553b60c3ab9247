package ingress

import (
	"context"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// interEventTimeout is the spec §5 bound on silence between stream events:
// a stream that produces nothing for this long is terminated as a
// provider error rather than left to block the request indefinitely.
const interEventTimeout = 60 * time.Second

// withIdleTimeout wraps an adapter's stream so that a gap longer than
// timeout between events is surfaced as a terminal FinishError and cancels
// cancel (the adapter's own context), rather than leaving the caller
// blocked on a silent upstream connection. Every adapter shares this one
// watchdog instead of each reimplementing its own timer.
func withIdleTimeout(ch <-chan unified.StreamEvent, timeout time.Duration, cancel context.CancelFunc) <-chan unified.StreamEvent {
	out := make(chan unified.StreamEvent, 1)
	go func() {
		defer close(out)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				timer.Reset(timeout)
				out <- ev
				if ev.FinishReason != "" {
					drainStream(ch)
					return
				}
			case <-timer.C:
				cancel()
				out <- unified.StreamEvent{
					Kind:         unified.EventDelta,
					FinishReason: unified.FinishError,
					Warning:      "provider stream idle timeout",
				}
				drainStream(ch)
				return
			}
		}
	}()
	return out
}

// drainStream consumes ch to completion so the adapter goroutine feeding it
// never blocks on a send nobody is reading anymore, once this watchdog has
// already committed to a terminal event of its own.
func drainStream(ch <-chan unified.StreamEvent) {
	for range ch {
	}
}
