package ingress

import (
	"bufio"
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/dialect"
	"github.com/nulpointcorp/llm-gateway/internal/unified"
)

// streamLogCtx carries everything pipeStream needs to emit the async
// request log and metrics once the stream drains, without threading the
// whole *fasthttp.RequestCtx lifetime through the closure. cancel tears
// down the per-stream context handed to the adapter's GenerateStream call,
// so a client disconnect (or an early exit of any kind) always signals the
// upstream side to stop producing.
type streamLogCtx struct {
	reqID    string
	model    string
	provider string
	route    string
	start    time.Time
	cancel   context.CancelFunc
}

// pipeStream commits to serving first and the remainder of ch as an SSE
// response in tr's wire framing (spec §9: "model the client response as a
// sink to which the translated stream is piped"). Once this is called no
// retry is possible (spec §4.6 step 7, §8 scenario 6) — bytes may already
// be in flight to the client.
//
// Grounded on the teacher's writeSSE (internal/proxy/gateway.go): same
// SetBodyStreamWriter + per-chunk flush shape, generalized from one fixed
// OpenAI delta JSON shape to whatever frames tr.StreamEncoder() produces.
func (r *Router) pipeStream(ctx *fasthttp.RequestCtx, tr dialect.Translator, cred *credential.Credential, first unified.StreamEvent, ch <-chan unified.StreamEvent, lc streamLogCtx) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	enc := tr.StreamEncoder()

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cred.ReleaseSlot()
		defer func() { _ = recover() }()
		if lc.cancel != nil {
			// Always signal the upstream side to stop, however this
			// closure exits: normal completion, a write failure, or the
			// client disconnecting out from under <-ch below.
			defer lc.cancel()
		}

		outChars := 0
		failed := false
		disconnected := false
		lastWarning := ""

		ev := first
	streamLoop:
		for {
			for _, frame := range enc.Encode(ev) {
				if _, err := w.Write(frame); err != nil {
					disconnected = true
					break streamLoop
				}
			}
			if err := w.Flush(); err != nil {
				disconnected = true
				break streamLoop
			}
			outChars += len(ev.Content) + len(ev.Reasoning)
			if ev.FinishReason == unified.FinishError {
				failed = true
				lastWarning = ev.Warning
			}
			if ev.FinishReason != "" {
				break
			}
			select {
			case <-ctx.Done():
				// Client gone: stop waiting on the upstream channel rather
				// than blocking until it closes on its own (spec §4.1 rule
				// 5, §5 Cancellation). lc.cancel (deferred above) is what
				// actually tells the adapter to stop producing.
				disconnected = true
				break streamLoop
			case next, ok := <-ch:
				if !ok {
					break streamLoop
				}
				ev = next
			}
		}
		if !disconnected {
			for _, frame := range enc.Done() {
				_, _ = w.Write(frame)
			}
			_ = w.Flush()
		}

		if disconnected {
			cred.RecordFailure(time.Now(), "client disconnected", false)
			if r.metrics != nil {
				r.metrics.RecordError(lc.provider, "client_disconnect")
			}
		} else if failed {
			cred.RecordFailure(time.Now(), lastWarning, false)
			if r.metrics != nil {
				r.metrics.RecordError(lc.provider, "stream_error")
			}
		} else {
			cred.RecordSuccess()
		}

		outputTokens := outChars / 4
		if outputTokens == 0 && outChars > 0 {
			outputTokens = 1
		}
		r.logCompletion(lc.reqID, lc.provider, lc.model, 0, outputTokens, time.Since(lc.start), fasthttp.StatusOK, false)
		if r.metrics != nil {
			dur := time.Since(lc.start)
			r.metrics.DecInFlight()
			r.metrics.ObserveGatewayRequest(lc.provider, lc.route, "bypass", dur)
			r.metrics.AddTokens(lc.provider, lc.route, 0, outputTokens, false)
		}
	})
}
