package tools

import (
	"errors"
	"time"
)

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrToolAlreadyExists = errors.New("tool already exists")
	ErrInvalidArgs       = errors.New("invalid tool arguments")
	ErrToolTimeout       = errors.New("tool execution timeout")
	// ErrToolFailed marks a run that completed but reported failure.
	ErrToolFailed = errors.New("tool failed")
)

// Error ties one of the sentinels above to the tool it concerns.
type Error struct {
	Tool   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Err.Error() + ": " + e.Tool
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidArgs reports bad arguments passed to tool.
func InvalidArgs(tool, detail string) error {
	return &Error{Tool: tool, Detail: detail, Err: ErrInvalidArgs}
}

// Timeout reports a tool run cut off after limit.
func Timeout(tool string, limit time.Duration) error {
	return &Error{Tool: tool, Detail: "after " + limit.String(), Err: ErrToolTimeout}
}
