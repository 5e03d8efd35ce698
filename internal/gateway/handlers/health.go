package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/samber/lo"

	"chatline/internal/channel"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime records the server start time once.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// ChannelSnapshotter exposes channel status. *channel.Registry implements it.
type ChannelSnapshotter interface {
	Snapshot() []channel.Status
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime"`
	Channels int    `json:"channels"`
	Healthy  int    `json:"healthy"`
}

// HealthHandler reports "ok" while at least one enabled channel is healthy,
// "degraded" otherwise. channels may be nil.
func HealthHandler(version string, channels ChannelSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Version: version}
		if !startTime.IsZero() {
			resp.Uptime = int64(time.Since(startTime).Seconds())
		}
		if channels != nil {
			snap := lo.Filter(channels.Snapshot(), func(s channel.Status, _ int) bool { return s.Enabled })
			resp.Channels = len(snap)
			resp.Healthy = lo.CountBy(snap, func(s channel.Status) bool { return s.Healthy })
			if resp.Healthy == 0 {
				resp.Status = "degraded"
			}
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
