package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode defines Provider error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED" // Invalid or expired credentials

	// Rate limiting and quota
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"   // Too many requests
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED" // Usage quota exceeded

	// Service availability
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"

	// Network and request
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"

	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// ProviderError is a structured error for upstream calls.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds until retry is allowed
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// NewProviderError creates a new ProviderError
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{
		Code:      code,
		Message:   message,
		Provider:  provider,
		Retryable: retryable,
	}
}

// ErrorType is the coarse classification used by the fallback state machine.
type ErrorType string

const (
	ErrorTypeAuth    ErrorType = "auth"
	ErrorTypeQuota   ErrorType = "quota"
	ErrorTypeTimeout ErrorType = "timeout"
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeEmpty   ErrorType = "empty-response"
	// ErrorTypeDispatch marks a failed tool-group selection call. It is
	// logged and never surfaced to the caller.
	ErrorTypeDispatch ErrorType = "dispatch-failure"
	ErrorTypeUnknown  ErrorType = "unknown"
)

var (
	authHints = []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key", "invalid_api_key",
		"incorrect api key", "authentication", "api key expired", "permission denied",
	}
	quotaHints = []string{
		"429", "rate limit", "rate_limit", "too many requests", "quota", "insufficient_quota",
		"exceeded your current", "billing", "余额不足", "额度",
	}
	timeoutHints = []string{
		"timeout", "timed out", "deadline exceeded", "etimedout",
	}
	networkHints = []string{
		"connection refused", "connection reset", "econnrefused", "econnreset", "no such host",
		"network is unreachable", "socket hang up", "broken pipe", "eof", "tls handshake",
	}
)

// Classify maps any error to an ErrorType by typed inspection first and
// message/status keywords second.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeAuthFailed:
			return ErrorTypeAuth
		case ErrCodeRateLimited, ErrCodeQuotaExceeded:
			return ErrorTypeQuota
		case ErrCodeTimeout:
			return ErrorTypeTimeout
		case ErrCodeNetworkError:
			return ErrorTypeNetwork
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authHints):
		return ErrorTypeAuth
	case containsAny(msg, quotaHints):
		return ErrorTypeQuota
	case containsAny(msg, timeoutHints):
		return ErrorTypeTimeout
	case containsAny(msg, networkHints):
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
