package tools

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/samber/lo"

	"chatline/internal/provider"
)

var _ provider.ToolExecutor = (*Registry)(nil)

// Registry holds every executable tool by name. The executor calls it
// through provider.ToolExecutor; the catalog reads definitions from it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return InvalidArgs("registry", "tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return InvalidArgs("registry", "tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return &Error{Tool: name, Err: ErrToolAlreadyExists}
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.tools)
	slices.Sort(names)
	return names
}

// Execute runs a tool by name with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return ToolResult{}, &Error{Tool: name, Err: ErrToolNotFound}
	}
	return tool.Execute(ctx, args)
}

// ExecuteTool adapts Execute to provider.ToolExecutor; error results become errors.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := r.Execute(ctx, name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", &Error{Tool: name, Detail: result.Content, Err: ErrToolFailed}
	}
	return result.Content, nil
}

// Definitions converts the named tools to provider.Tool format, in the order
// given. Unknown names are skipped. With no names, every tool is returned
// sorted by name.
func (r *Registry) Definitions(names ...string) []provider.Tool {
	if len(names) == 0 {
		names = r.Names()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FilterMap(names, func(name string, _ int) (provider.Tool, bool) {
		tool, ok := r.tools[name]
		if !ok {
			return provider.Tool{}, false
		}
		def, err := definition(tool)
		return def, err == nil
	})
}

func definition(tool Tool) (provider.Tool, error) {
	params, err := json.Marshal(tool.Parameters())
	if err != nil {
		return provider.Tool{}, err
	}
	return provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  params,
		},
	}, nil
}
