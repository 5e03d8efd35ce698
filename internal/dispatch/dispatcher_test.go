package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/provider"
)

type fakeCompleter struct {
	replies []string
	err     error
	reqs    []provider.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	text := ""
	if i := len(f.reqs) - 1; i < len(f.replies) {
		text = f.replies[i]
	}
	return &provider.Response{Contents: []provider.Content{provider.TextContent(text)}}, nil
}

type fakeCatalog struct{ n int }

func (c fakeCatalog) Summary() string    { return "[0] web: Fetch pages (http_fetch)" }
func (c fakeCatalog) Has(index int) bool { return index >= 0 && index < c.n }

func TestDispatch_Success(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"toolGroupIndexes":[0]}`}}
	d := New(fc, fakeCatalog{n: 1})

	res := d.Dispatch(context.Background(), Input{Model: "router", Message: "open example.com"})
	assert.Equal(t, []int{0}, res.ToolGroupIndexes)

	require.Len(t, fc.reqs, 1)
	req := fc.reqs[0]
	assert.Equal(t, "router", req.Model)
	assert.Empty(t, req.Tools, "dispatch call is tool-free")
	assert.Equal(t, 0.3, req.Temperature)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Text(), "[0] web")
	assert.Contains(t, req.Messages[1].Text(), "open example.com")
}

func TestDispatch_RetriesEmptyWithRisingTemperature(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"", "  ", "[0]"}}
	d := New(fc, fakeCatalog{n: 1})

	res := d.Dispatch(context.Background(), Input{Model: "router", Message: "hi"})
	assert.Equal(t, []int{0}, res.ToolGroupIndexes)

	require.Len(t, fc.reqs, 3)
	assert.Equal(t, []float64{0.3, 0.5, 0.7}, []float64{
		fc.reqs[0].Temperature, fc.reqs[1].Temperature, fc.reqs[2].Temperature,
	})
}

func TestDispatch_AlwaysEmptyGivesDefault(t *testing.T) {
	fc := &fakeCompleter{}
	res := New(fc, fakeCatalog{n: 1}).Dispatch(context.Background(), Input{Model: "router"})
	assert.Equal(t, DefaultResult(), res)
	assert.Len(t, fc.reqs, 3)
}

func TestDispatch_ErrorGivesDefault(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("upstream exploded")}
	res := New(fc, fakeCatalog{n: 3}).Dispatch(context.Background(), Input{Model: "router", Message: "x"})

	assert.Equal(t, Result{
		ToolGroupIndexes: []int{},
		Tasks:            []Task{{Type: TaskChat, Priority: 1}},
		ExecutionMode:    ModeSequential,
	}, res)
}

func TestDispatch_LogsFailureType(t *testing.T) {
	var buf bytes.Buffer
	fc := &fakeCompleter{err: provider.NewProviderError(provider.ErrCodeAuthFailed, "bad key", "fake", false)}
	d := New(fc, fakeCatalog{n: 1}, WithLogger(zerolog.New(&buf)))

	assert.Equal(t, DefaultResult(), d.Dispatch(context.Background(), Input{Model: "router"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "dispatch-failure", line["error_type"])
	assert.Equal(t, "auth", line["cause"])
}

func TestRecentTurns(t *testing.T) {
	var history []provider.Message
	for i := 0; i < 8; i++ {
		history = append(history,
			provider.NewTextMessage(provider.RoleUser, "q"),
			provider.NewTextMessage(provider.RoleAssistant, "a"),
			provider.NewTextMessage(provider.RoleTool, "tool output"),
		)
	}
	got := recentTurns(history, 5)
	assert.Len(t, got, 10)
	for _, m := range got {
		assert.NotEqual(t, provider.RoleTool, m.Role)
	}
	assert.Empty(t, recentTurns(history, 0))
}
