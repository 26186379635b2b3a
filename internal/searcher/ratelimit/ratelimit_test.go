package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(2, time.Second)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("a") {
		t.Fatal("third request within the window should be limited")
	}
	if !l.Allow("b") {
		t.Error("keys are independent")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.Allow("a") {
		t.Error("half a window refills one token")
	}
	if l.Allow("a") {
		t.Error("only one token was refilled")
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(5, time.Second)
	l.now = func() time.Time { return now }
	l.Allow("old")
	now = now.Add(time.Second)
	l.Allow("fresh")
	now = now.Add(1500 * time.Millisecond)
	l.sweep()
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}
}

func TestMiddleware(t *testing.T) {
	l := New(1, time.Minute)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Middleware(l, "/api/v1/search")(ok)

	do := func(path, fwd string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("/api/v1/search?q=a", ""); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := do("/api/v1/search?q=a", ""); code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", code)
	}
	if code := do("/api/v1/search?q=a", "10.0.0.9, 10.0.0.1"); code != http.StatusOK {
		t.Errorf("other client = %d", code)
	}
	if code := do("/health/live", ""); code != http.StatusOK {
		t.Errorf("unlimited path = %d", code)
	}
}
