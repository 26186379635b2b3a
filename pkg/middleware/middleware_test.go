package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
)

func TestRequestID(t *testing.T) {
	var seen, session string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		session = logger.SessionID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("generated id %q is not a uuid", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen || session != seen {
		t.Error("id must be echoed and used as the session id")
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set(RequestIDHeader, incoming)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != incoming {
		t.Errorf("incoming id not reused: %q", seen)
	}

	req.Header.Set(RequestIDHeader, "not-a-uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not-a-uuid" {
		t.Error("malformed ids must be replaced")
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/path", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/search", "418")); got != 1 {
		t.Errorf("search requests = %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "other", "418")); got != 1 {
		t.Errorf("other requests = %v", got)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestTimeout(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("code = %d, want 504", rec.Code)
	}
}
