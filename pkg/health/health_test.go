package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

var (
	up   = PingFunc(func(context.Context) error { return nil })
	down = PingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestChecker_WorstStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
		code   int
	}{
		{"all up", map[string]Check{"corpus": PingCheck(up, false), "store": PingCheck(up, false)}, StatusUp, http.StatusOK},
		{"optional down", map[string]Check{"corpus": PingCheck(up, false), "redis": PingCheck(down, true)}, StatusDegraded, http.StatusOK},
		{"required down", map[string]Check{"store": PingCheck(down, false), "redis": PingCheck(down, true)}, StatusDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.code {
				t.Errorf("status code = %d, want %d", rec.Code, tt.code)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatalf("decoding report: %v", err)
			}
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("got %d components, want %d", len(report.Components), len(tt.checks))
			}
		})
	}
}

func TestChecker_LiveHandler(t *testing.T) {
	c := NewChecker()
	c.Register("store", PingCheck(down, false))
	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness must not depend on checks, got %d", rec.Code)
	}
}
