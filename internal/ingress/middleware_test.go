package ingress

import (
	"testing"

	"github.com/valyala/fasthttp"
)

// --- recovery middleware ----------------------------------------------------

func TestRecovery_NoPanic(t *testing.T) {
	handler := recovery(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	handler := recovery(func(ctx *fasthttp.RequestCtx) {
		panic("mock panic")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500, got %d", ctx.Response.StatusCode())
	}
}

// --- requestID middleware ---------------------------------------------------

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {
		id, _ := ctx.UserValue("request_id").(string)
		if id == "" {
			t.Error("request_id should be generated")
		}
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if string(ctx.Response.Header.Peek("X-Request-ID")) == "" {
		t.Error("X-Request-ID response header should be set")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {
		id, _ := ctx.UserValue("request_id").(string)
		if id != "custom-id-123" {
			t.Errorf("expected preserved ID, got %s", id)
		}
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Request-ID", "custom-id-123")
	handler(ctx)

	if string(ctx.Response.Header.Peek("X-Request-ID")) != "custom-id-123" {
		t.Error("expected preserved ID in response header")
	}
}

// --- authenticate middleware -------------------------------------------------

func TestAuthenticate_EmptyKeyDisablesCheck(t *testing.T) {
	called := false
	handler := authenticate("")(func(ctx *fasthttp.RequestCtx) {
		called = true
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if !called {
		t.Error("expected next handler to run when no API key is configured")
	}
}

func TestAuthenticate_ValidKey(t *testing.T) {
	called := false
	handler := authenticate("secret-key")(func(ctx *fasthttp.RequestCtx) {
		called = true
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer secret-key")
	handler(ctx)

	if !called {
		t.Error("expected next handler to run with a valid key")
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	called := false
	handler := authenticate("secret-key")(func(ctx *fasthttp.RequestCtx) {
		called = true
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if called {
		t.Error("next handler should not run without an Authorization header")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestAuthenticate_WrongKey(t *testing.T) {
	called := false
	handler := authenticate("secret-key")(func(ctx *fasthttp.RequestCtx) {
		called = true
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer wrong-key")
	handler(ctx)

	if called {
		t.Error("next handler should not run with a wrong key")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestAuthenticate_NonBearerScheme(t *testing.T) {
	handler := authenticate("secret-key")(func(ctx *fasthttp.RequestCtx) {
		t.Error("next handler should not run")
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Basic secret-key")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Error("equal byte slices should compare equal")
	}
	if constantTimeEqual([]byte("abc"), []byte("abcd")) {
		t.Error("different-length byte slices must never compare equal")
	}
	if constantTimeEqual([]byte("abc"), []byte("xyz")) {
		t.Error("different byte slices should not compare equal")
	}
}

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Basic abc123", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := parseBearerToken(tt.header); got != tt.want {
			t.Errorf("parseBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

// --- applyMiddleware ---------------------------------------------------------

func TestApplyMiddleware_Ordering(t *testing.T) {
	var order []string
	mark := func(name string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	handler := applyMiddleware(func(ctx *fasthttp.RequestCtx) {
		order = append(order, "handler")
	}, mark("a"), mark("b"))

	handler(&fasthttp.RequestCtx{})

	want := []string{"a", "b", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
		}
	}
}

func TestApplyMiddleware_NoMiddlewares(t *testing.T) {
	called := false
	handler := applyMiddleware(func(ctx *fasthttp.RequestCtx) {
		called = true
	})
	handler(&fasthttp.RequestCtx{})

	if !called {
		t.Error("handler should be called even with no middlewares")
	}
}
