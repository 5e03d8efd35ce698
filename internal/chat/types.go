package chat

import (
	"encoding/json"
	"errors"
	"time"

	"chatline/internal/dispatch"
	"chatline/internal/executor"
	"chatline/internal/multitask"
	"chatline/internal/provider"
)

var (
	// ErrInvalidOptions wraps option validation failures.
	ErrInvalidOptions = errors.New("chat: invalid options")

	// ErrAllTasksFailed is returned when no sub-task produced a result.
	ErrAllTasksFailed = errors.New("chat: all tasks failed")
)

// Options is one inbound message.
type Options struct {
	UserID  string           `json:"userId" validate:"required"`
	GroupID string           `json:"groupId,omitempty"`
	Sender  *provider.Sender `json:"sender,omitempty"`
	Message string           `json:"message,omitempty"`
	Images  []string         `json:"images,omitempty" validate:"omitempty,dive,required"`

	// Model overrides every other model choice.
	Model string `json:"model,omitempty"`
	// Event is platform context returned untouched in the result.
	Event json.RawMessage `json:"event,omitempty"`
	// Mode overrides how the global prompt combines with the persona:
	// append, prepend or override.
	Mode      string `json:"mode,omitempty" validate:"omitempty,oneof=append prepend override"`
	DebugMode bool   `json:"debugMode,omitempty"`

	PrefixPersona string `json:"prefixPersona,omitempty"`
	DisableTools  bool   `json:"disableTools,omitempty"`
	SkipHistory   bool   `json:"skipHistory,omitempty"`
	SkipPersona   bool   `json:"skipPersona,omitempty"`

	// Memory and Knowledge are appended to the system prompt as-is.
	Memory    string `json:"memory,omitempty"`
	Knowledge string `json:"knowledge,omitempty"`

	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"maxTokens,omitempty" validate:"gte=0"`
}

// Result is the reply to one message.
type Result struct {
	ConversationID string                 `json:"conversationId"`
	Response       []provider.Content     `json:"response"`
	Usage          provider.Usage         `json:"usage"`
	Model          string                 `json:"model"`
	ToolCallLogs   []provider.ToolCallLog `json:"toolCallLogs,omitempty"`
	// Tasks is set when the message was split into sub-tasks.
	Tasks []multitask.TaskResult `json:"tasks,omitempty"`
	// ContextReset is set when the reply is the auto-clean notice.
	ContextReset bool            `json:"contextReset,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
	DebugInfo    *DebugInfo      `json:"debugInfo,omitempty"`
}

// Text joins the text contents of the reply.
func (r *Result) Text() string {
	return provider.JoinText(r.Response)
}

// DebugInfo explains how a reply was produced.
type DebugInfo struct {
	Scenario      string             `json:"scenario"`
	Model         string             `json:"model"`
	Channel       string             `json:"channel,omitempty"`
	KeyIndex      int                `json:"keyIndex"`
	FallbackUsed  bool               `json:"fallbackUsed"`
	TotalRetries  int                `json:"totalRetries"`
	Attempts      []executor.Attempt `json:"attempts,omitempty"`
	SwitchChain   []string           `json:"switchChain,omitempty"`
	Dispatch      *dispatch.Result   `json:"dispatch,omitempty"`
	Tools         []string           `json:"tools,omitempty"`
	PersonaSource string             `json:"personaSource,omitempty"`
	SystemPrompt  string             `json:"systemPrompt,omitempty"`
	HistoryLength int                `json:"historyLength"`
	Duration      time.Duration      `json:"duration"`
}

// ConversationStatus reports the stored size and in-flight requests of a
// conversation.
type ConversationStatus struct {
	ConversationID string `json:"conversationId"`
	Messages       int    `json:"messages"`
	Active         int    `json:"active"`
}
