package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultConstructors(t *testing.T) {
	ok := NewSuccessResult("ok")
	assert.False(t, ok.IsError)
	assert.Equal(t, "ok", ok.Content)

	bad := NewErrorResult("failed")
	assert.True(t, bad.IsError)
	assert.Equal(t, "failed", bad.Content)
}

func TestBaseToolDefaults(t *testing.T) {
	bt := &BaseTool{ToolName: "x", ToolDescription: "does x"}
	assert.Equal(t, "x", bt.Name())
	assert.Equal(t, "does x", bt.Description())
	assert.Equal(t, "object", bt.Parameters()["type"])
	assert.Empty(t, bt.Parameters()["properties"])
}

func TestObjectSchema(t *testing.T) {
	s := ObjectSchema(map[string]any{"q": StringProperty("query")}, "q")
	assert.Equal(t, []string{"q"}, s["required"])
	assert.Equal(t, "string", s["properties"].(map[string]any)["q"].(map[string]any)["type"])
	assert.NotContains(t, ObjectSchema(map[string]any{}), "required")
}
