package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatline/internal/channel"
)

type fakeChannels []channel.Status

func (f fakeChannels) Snapshot() []channel.Status { return f }

func TestHealthHandler(t *testing.T) {
	InitStartTime()

	tests := []struct {
		name        string
		channels    ChannelSnapshotter
		wantStatus  string
		wantHealthy int
	}{
		{"no registry", nil, "ok", 0},
		{"one healthy", fakeChannels{
			{ID: "a", Enabled: true, Healthy: true},
			{ID: "b", Enabled: true, Healthy: false},
			{ID: "c", Enabled: false, Healthy: true},
		}, "ok", 1},
		{"all unhealthy", fakeChannels{
			{ID: "a", Enabled: true, Healthy: false},
			{ID: "c", Enabled: false, Healthy: true},
		}, "degraded", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthHandler("v1.0.0", tt.channels).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantStatus)
			}
			if resp.Version != "v1.0.0" {
				t.Errorf("version = %s, want v1.0.0", resp.Version)
			}
			if resp.Healthy != tt.wantHealthy {
				t.Errorf("healthy = %d, want %d", resp.Healthy, tt.wantHealthy)
			}
			if resp.Uptime < 0 {
				t.Errorf("uptime = %d, want >= 0", resp.Uptime)
			}
		})
	}
}
