package handlers

import (
	"context"
	"net/http"
	"time"

	"chatline/internal/storage"
	"chatline/internal/tools"
)

// ModelLister is implemented by registries that can name the models they
// serve explicitly.
type ModelLister interface {
	Models() []string
}

// ChannelsHandler handles GET /api/v1/channels. The body also lists the
// served models when channels implements ModelLister.
func ChannelsHandler(channels ChannelSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"channels": channels.Snapshot()}
		if ml, ok := channels.(ModelLister); ok {
			body["models"] = ml.Models()
		}
		SendJSON(w, http.StatusOK, body)
	}
}

// HealthResetter clears channel health counters.
type HealthResetter interface {
	Reset()
}

// ResetChannelsHandler handles POST /api/v1/channels/reset.
func ResetChannelsHandler(resetter HealthResetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resetter.Reset()
		SendJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// StatsStore aggregates recorded calls. *storage.DB implements it.
type StatsStore interface {
	ModelUsageSince(ctx context.Context, since time.Time) ([]storage.ModelUsage, error)
	ToolUsageSince(ctx context.Context, since time.Time) ([]storage.ToolUsage, error)
}

// StatsResponse is the usage summary body.
type StatsResponse struct {
	Since  time.Time            `json:"since"`
	Models []storage.ModelUsage `json:"models"`
	Tools  []storage.ToolUsage  `json:"tools"`
}

// StatsHandler handles GET /api/v1/stats?window=24h.
func StatsHandler(store StatsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := 24 * time.Hour
		if raw := r.URL.Query().Get("window"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid window "+raw)
				return
			}
			window = d
		}
		since := time.Now().Add(-window)

		models, err := store.ModelUsageSince(r.Context(), since)
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		toolUsage, err := store.ToolUsageSince(r.Context(), since)
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		SendJSON(w, http.StatusOK, StatsResponse{Since: since, Models: models, Tools: toolUsage})
	}
}

// ToolGroupLister lists the tool groups. *tools.Catalog implements it.
type ToolGroupLister interface {
	Groups() []tools.Group
}

// ToolGroupsHandler handles GET /api/v1/tools/groups.
func ToolGroupsHandler(catalog ToolGroupLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SendJSON(w, http.StatusOK, map[string]any{"groups": catalog.Groups()})
	}
}
