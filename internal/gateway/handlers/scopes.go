package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatline/internal/scope"
	"chatline/internal/storage"
)

// ScopeEditor reads and writes scope settings. *scope.Resolver implements
// it and keeps its cache in step with the writes.
type ScopeEditor interface {
	GetEffectiveSettings(ctx context.Context, groupID, userID string, isPrivate bool) (scope.Settings, error)
	Put(ctx context.Context, scopeType, scopeID string, s scope.Settings) error
	Delete(ctx context.Context, scopeType, scopeID string) error
}

// ScopeLister lists stored scope layers. *storage.DB implements it.
type ScopeLister interface {
	ListScopeSettings(ctx context.Context, scopeType string) ([]storage.ScopeRecord, error)
}

// ListScopesHandler handles GET /api/v1/scopes?type=.
func ListScopesHandler(lister ScopeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := lister.ListScopeSettings(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		if records == nil {
			records = []storage.ScopeRecord{}
		}
		SendJSON(w, http.StatusOK, map[string]any{"scopes": records})
	}
}

// EffectiveScopeHandler handles GET /api/v1/scopes/effective?userId=&groupId=&private=.
func EffectiveScopeHandler(editor ScopeEditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		private, _ := strconv.ParseBool(q.Get("private"))
		settings, err := editor.GetEffectiveSettings(r.Context(), q.Get("groupId"), q.Get("userId"), private)
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		SendJSON(w, http.StatusOK, settings)
	}
}

// PutScopeHandler handles PUT /api/v1/scopes/{type}/{id}.
func PutScopeHandler(editor ScopeEditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var settings scope.Settings
		if err := DecodeJSON(r, &settings); err != nil {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		if err := editor.Put(r.Context(), vars["type"], vars["id"], settings); err != nil {
			sendScopeError(w, err)
			return
		}
		SendJSON(w, http.StatusOK, settings)
	}
}

// DeleteScopeHandler handles DELETE /api/v1/scopes/{type}/{id}.
func DeleteScopeHandler(editor ScopeEditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := editor.Delete(r.Context(), vars["type"], vars["id"]); err != nil {
			sendScopeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func sendScopeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scope.ErrUnknownType):
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "scope settings not found")
	default:
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
