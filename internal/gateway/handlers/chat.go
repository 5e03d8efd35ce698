package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"chatline/internal/chat"
)

// ChatService is the chat entry point. *chat.Service implements it.
type ChatService interface {
	SendMessage(ctx context.Context, opts chat.Options) (*chat.Result, error)
	ResetConversation(ctx context.Context, userID, groupID string) error
	ConversationID(userID, groupID string) string
	ConversationStatus(ctx context.Context, userID, groupID string) (chat.ConversationStatus, error)
}

// ChatHandler handles POST /api/v1/chat.
func ChatHandler(svc ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts chat.Options
		if err := DecodeJSON(r, &opts); err != nil {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}

		res, err := svc.SendMessage(r.Context(), opts)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("user", opts.UserID).Str("group", opts.GroupID).Msg("chat failed")
			SendChatError(w, err)
			return
		}
		SendJSON(w, http.StatusOK, res)
	}
}

// ResetConversationHandler handles DELETE /api/v1/conversations?userId=&groupId=.
func ResetConversationHandler(svc ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		groupID := r.URL.Query().Get("groupId")
		if userID == "" {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "userId is required")
			return
		}
		if err := svc.ResetConversation(r.Context(), userID, groupID); err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		SendJSON(w, http.StatusOK, map[string]string{
			"conversationId": svc.ConversationID(userID, groupID),
			"status":         "reset",
		})
	}
}

// ConversationStatusHandler handles GET /api/v1/conversations?userId=&groupId=.
func ConversationStatusHandler(svc ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "userId is required")
			return
		}
		status, err := svc.ConversationStatus(r.Context(), userID, r.URL.Query().Get("groupId"))
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		SendJSON(w, http.StatusOK, status)
	}
}
