package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLiveness(t *testing.T) {
	h := NewHandler(Config{
		Checks: map[string]Checker{
			"database": CheckerFunc(func(context.Context) error { return errors.New("down") }),
		},
	})

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"ok":true}` {
		t.Errorf("body: got %s", got)
	}
}

func TestReadiness(t *testing.T) {
	up := CheckerFunc(func(context.Context) error { return nil })
	down := CheckerFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	tests := []struct {
		name       string
		checks     map[string]Checker
		ready      bool
		wantStatus int
	}{
		{"no dependencies", nil, true, http.StatusOK},
		{"all up", map[string]Checker{"database": up, "redis": up}, true, http.StatusOK},
		{"one down", map[string]Checker{"database": up, "redis": down}, true, http.StatusServiceUnavailable},
		{"draining", map[string]Checker{"database": up}, false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Config{Checks: tt.checks, Version: "test"})
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != (tt.wantStatus == http.StatusOK) {
				t.Errorf("ready: got %v", resp.Ready)
			}
			if len(resp.Services) != len(tt.checks) {
				t.Errorf("services: got %d, want %d", len(resp.Services), len(tt.checks))
			}
			if s, ok := resp.Services["redis"]; ok && s.Status == "down" && s.Error == "" {
				t.Error("down service should carry its error")
			}
		})
	}
}

func TestReadiness_HonoursTimeout(t *testing.T) {
	slow := CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := NewHandler(Config{Checks: map[string]Checker{"database": slow}, Timeout: 10 * time.Millisecond})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rec.Code)
	}
}
