package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/tools"
)

func TestRegister(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, Register(r, Options{}))
	assert.ElementsMatch(t, ToolNames(), r.Names())
	assert.Error(t, Register(r, Options{}), "second registration collides")
}

func TestCurrentTime(t *testing.T) {
	tool := NewCurrentTimeTool()
	tool.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	res, err := tool.Execute(context.Background(), map[string]any{"timezone": "Asia/Shanghai"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "2024-05-01 20:00:00 Wednesday CST", res.Content)

	res, err = tool.Execute(context.Background(), map[string]any{"timezone": "Mars/Olympus"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, strings.Repeat("x", 20))
	}))
	defer srv.Close()

	tool := NewHTTPFetchTool(time.Second, nil)
	tool.BlockPrivate = false
	tool.MaxResponseSize = 10

	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/page"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "EXTERNAL CONTENT from "+srv.URL)
	assert.Contains(t, res.Content, "(response truncated)")
	assert.Equal(t, 200, res.Metadata["status_code"])

	res, err = tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHTTPFetch_Guards(t *testing.T) {
	tool := NewHTTPFetchTool(0, nil)

	_, err := tool.Execute(context.Background(), map[string]any{})
	assert.True(t, errors.Is(err, tools.ErrInvalidArgs))

	res, err := tool.Execute(context.Background(), map[string]any{"url": "http://127.0.0.1:9/"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "SSRF protection")
}
