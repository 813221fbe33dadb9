package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/autopeer-io/vacuumsim/internal/vacuumagent/engine"
)

func TestRouter(t *testing.T) {
	st := engine.Status{DeviceID: 42, Power: 77.5, Phase: engine.PhaseCleaning}
	connected := true

	router := NewRouter(func() engine.Status { return st }, func() bool { return connected })

	tests := []struct {
		name     string
		method   string
		path     string
		setup    func()
		wantCode int
		wantBody string
	}{
		{name: "healthz", method: http.MethodGet, path: "/healthz", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "ready", method: http.MethodGet, path: "/readyz", wantCode: http.StatusOK, wantBody: "ok"},
		{
			name: "not connected", method: http.MethodGet, path: "/readyz",
			setup:    func() { connected = false },
			wantCode: http.StatusServiceUnavailable, wantBody: "transport not connected",
		},
		{
			name: "shut down", method: http.MethodGet, path: "/readyz",
			setup:    func() { connected, st.ShutDown = true, true },
			wantCode: http.StatusServiceUnavailable, wantBody: "robot shut down",
		},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantCode: http.StatusOK, wantBody: "go_goroutines"},
		{name: "wrong method", method: http.MethodPost, path: "/status", wantCode: http.StatusMethodNotAllowed},
		{name: "unknown path", method: http.MethodGet, path: "/nope", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	st := engine.Status{DeviceID: 42, Power: 77.5, RunCount: 2, Phase: engine.PhaseCharging, Running: true}
	router := NewRouter(func() engine.Status { return st }, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got engine.Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != st {
		t.Errorf("status = %+v, want %+v", got, st)
	}
}
