// Package tools defines the Tool interface, the tool registry and the indexed
// tool-group catalog used to keep model prompts small.
package tools

import "context"

// Tool is a function the model can call. Implementations must be safe for
// concurrent use; the executor may run several calls of one reply at once.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON Schema of the arguments object.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is what a tool hands back to the model. IsError marks a
// failure the model should see; Registry.ExecuteTool turns it into an
// ErrToolFailed error.
type ToolResult struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content}
}

func NewErrorResult(msg string) ToolResult {
	return ToolResult{Content: msg, IsError: true}
}

// BaseTool carries the static part of a Tool for embedding.
type BaseTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  map[string]any
}

func (t *BaseTool) Name() string        { return t.ToolName }
func (t *BaseTool) Description() string { return t.ToolDescription }

// Parameters defaults to an empty object schema.
func (t *BaseTool) Parameters() map[string]any {
	if t.ToolParameters != nil {
		return t.ToolParameters
	}
	return ObjectSchema(map[string]any{})
}

// ObjectSchema builds a JSON Schema object from property schemas.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func StringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
