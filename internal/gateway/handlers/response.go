// Package handlers implements the HTTP handlers of the gateway.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"chatline/internal/chat"
	"chatline/internal/executor"
	"chatline/internal/provider"
)

// maxBodyBytes bounds request bodies; images travel as URLs or data URIs.
const maxBodyBytes = 8 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and a readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Type is the upstream error class when the failure came from a model.
	Type string `json:"type,omitempty"`
}

// Error codes.
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeUpstreamError   = "UPSTREAM_ERROR"
	ErrCodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	ErrCodeNoChannel       = "NO_CHANNEL"
)

// SendJSON writes data as JSON with the given status.
func SendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// SendError writes an ErrorResponse.
func SendError(w http.ResponseWriter, status int, code, message string) {
	SendJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// DecodeJSON reads a bounded JSON body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// SendChatError maps a chat failure to a status code and error body.
func SendChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidOptions):
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	case errors.Is(err, executor.ErrNoChannel), errors.Is(err, executor.ErrNoCandidates):
		SendError(w, http.StatusServiceUnavailable, ErrCodeNoChannel, err.Error())
		return
	}

	errType := executor.ErrorTypeOf(err)
	status, code := http.StatusBadGateway, ErrCodeUpstreamError
	switch errType {
	case provider.ErrorTypeQuota:
		status, code = http.StatusTooManyRequests, ErrCodeRateLimited
	case provider.ErrorTypeTimeout:
		status, code = http.StatusGatewayTimeout, ErrCodeUpstreamTimeout
	}
	SendJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:    code,
		Message: err.Error(),
		Type:    string(errType),
	}})
}
