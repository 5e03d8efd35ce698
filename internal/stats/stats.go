// Package stats defines the telemetry records emitted per orchestrated request
// and the sinks that persist them.
package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// APICall is one orchestrated model request, written once on every exit path.
type APICall struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	GroupID        string        `json:"group_id,omitempty"`
	Scenario       string        `json:"scenario"`
	Model          string        `json:"model"`
	ChannelID      string        `json:"channel_id"`
	ChannelName    string        `json:"channel_name"`
	KeyIndex       int           `json:"key_index"`
	Success        bool          `json:"success"`
	ErrorType      string        `json:"error_type,omitempty"`
	Error          string        `json:"error,omitempty"`
	FallbackUsed   bool          `json:"fallback_used"`
	TotalRetries   int           `json:"total_retries"`
	Attempts       int           `json:"attempts"`
	SwitchChain    []string      `json:"switch_chain,omitempty"`
	PromptTokens   int           `json:"prompt_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	TotalTokens    int           `json:"total_tokens"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ToolCall is one tool invocation performed while answering a request.
type ToolCall struct {
	Name           string        `json:"name"`
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Sink receives telemetry records.
type Sink interface {
	RecordAPICall(ctx context.Context, call APICall) error
	RecordToolCall(ctx context.Context, call ToolCall) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordAPICall(context.Context, APICall) error   { return nil }
func (NopSink) RecordToolCall(context.Context, ToolCall) error { return nil }

// MultiSink fans every record out to all sinks and waits for all of them.
// One failing sink never prevents the others from receiving the record.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink; nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) RecordAPICall(ctx context.Context, call APICall) error {
	return m.each(func(s Sink) error { return s.RecordAPICall(ctx, call) })
}

func (m *MultiSink) RecordToolCall(ctx context.Context, call ToolCall) error {
	return m.each(func(s Sink) error { return s.RecordToolCall(ctx, call) })
}

func (m *MultiSink) each(fn func(Sink) error) error {
	p := pool.New().WithErrors()
	for _, s := range m.sinks {
		s := s
		p.Go(func() error { return fn(s) })
	}
	return p.Wait()
}

// LogSink writes records as structured log events.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink backed by logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) RecordAPICall(_ context.Context, call APICall) error {
	ev := l.logger.Info()
	if !call.Success {
		ev = l.logger.Warn().Str("error_type", call.ErrorType).Str("error", call.Error)
	}
	ev.Str("conversation", call.ConversationID).
		Str("scenario", call.Scenario).
		Str("model", call.Model).
		Str("channel", call.ChannelID).
		Int("key_index", call.KeyIndex).
		Bool("fallback", call.FallbackUsed).
		Int("retry", call.TotalRetries).
		Int("attempts", call.Attempts).
		Strs("switch_chain", call.SwitchChain).
		Int("tokens", call.TotalTokens).
		Dur("duration", call.Duration).
		Msg("api call")
	return nil
}

func (l *LogSink) RecordToolCall(_ context.Context, call ToolCall) error {
	l.logger.Debug().Str("tool", call.Name).Bool("success", call.Success).
		Dur("duration", call.Duration).Msg("tool call")
	return nil
}
