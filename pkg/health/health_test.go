package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{
			"a": PingCheck(pingerFunc(func(context.Context) error { return nil }), StatusDown),
		}, StatusUp},
		{"optional down", map[string]Check{
			"a": PingCheck(pingerFunc(func(context.Context) error { return nil }), StatusDown),
			"b": PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }), StatusDegraded),
		}, StatusDegraded},
		{"required down", map[string]Check{
			"b": PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }), StatusDegraded),
			"c": PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }), StatusDown),
		}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(time.Second)
			for n, ch := range tt.checks {
				c.Register(n, ch)
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("components = %d", len(report.Components))
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("index", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "domain rank disabled"}
	})

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("degraded node should be ready, code = %d", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Components["index"].Message != "domain rank disabled" {
		t.Errorf("report = %+v", report)
	}

	c.Register("peers", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown} })
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}
