package stats

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu    sync.Mutex
	calls []APICall
	tools []ToolCall
	err   error
}

func (m *memorySink) RecordAPICall(_ context.Context, call APICall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *memorySink) RecordToolCall(_ context.Context, call ToolCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append(m.tools, call)
	return m.err
}

func TestMultiSink_WaitsForAll(t *testing.T) {
	failing := &memorySink{err: errors.New("disk full")}
	ok := &memorySink{}
	m := NewMultiSink(failing, nil, ok)

	err := m.RecordAPICall(context.Background(), APICall{Model: "gpt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, ok.calls, 1, "healthy sink still receives the record")
	assert.Len(t, failing.calls, 1)

	require.Error(t, m.RecordToolCall(context.Background(), ToolCall{Name: "current_time"}))
	assert.Len(t, ok.tools, 1)
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, NewMultiSink().RecordAPICall(context.Background(), APICall{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))

	require.NoError(t, s.RecordAPICall(context.Background(), APICall{
		Model: "gpt", Success: false, ErrorType: "auth", SwitchChain: []string{"key:a#0->a#1"},
	}))
	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"error_type":"auth"`)
	assert.Contains(t, out, `"switch_chain":["key:a#0->a#1"]`)
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.RecordAPICall(context.Background(), APICall{}))
	assert.NoError(t, s.RecordToolCall(context.Background(), ToolCall{}))
}
