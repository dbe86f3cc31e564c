package ops_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/ops"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := ops.NewServer(ops.ServerConfig{Address: "127.0.0.1:0"})
	rec := get(t, s.Handler(), "/server/health")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]ops.ReadyCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name: "all pass",
			checks: map[string]ops.ReadyCheck{
				"registry":   func(ctx context.Context) error { return nil },
				"aptos_node": func(ctx context.Context) error { return nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"registry": "ok", "aptos_node": "ok"},
		},
		{
			name: "node down",
			checks: map[string]ops.ReadyCheck{
				"registry":   func(ctx context.Context) error { return nil },
				"aptos_node": func(ctx context.Context) error { return errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not ready",
			wantChecks: map[string]string{"registry": "ok", "aptos_node": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ops.NewServer(ops.ServerConfig{Checks: tt.checks})
			rec := get(t, s.Handler(), "/server/ready")
			assert.Equal(t, rec.Code, tt.wantCode)

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, body.Status, tt.wantStatus)
			for k, v := range tt.wantChecks {
				assert.Equal(t, body.Checks[k], v)
			}
		})
	}
}

func TestMetricsToggle(t *testing.T) {
	on := ops.NewServer(ops.ServerConfig{EnableMetrics: true})
	assert.Equal(t, get(t, on.Handler(), "/server/metrics").Code, http.StatusOK)

	off := ops.NewServer(ops.ServerConfig{})
	assert.Equal(t, get(t, off.Handler(), "/server/metrics").Code, http.StatusNotFound)
}

func TestRateLimitPerIP(t *testing.T) {
	s := ops.NewServer(ops.ServerConfig{RatePerMinute: 1})
	assert.Equal(t, get(t, s.Handler(), "/server/health").Code, http.StatusOK)
	assert.Equal(t, get(t, s.Handler(), "/server/health").Code, http.StatusTooManyRequests)
}

func TestShutdownBeforeStart(t *testing.T) {
	s := ops.NewServer(ops.ServerConfig{Address: "127.0.0.1:0"})
	assert.NoError(t, s.Shutdown(context.Background()))
}
