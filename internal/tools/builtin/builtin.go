// Package builtin provides the tools shipped with chatline.
package builtin

import (
	"time"

	"chatline/internal/tools"
)

// Options configures the builtin tools.
type Options struct {
	HTTPTimeout    time.Duration
	AllowedDomains []string
}

// Register registers all builtin tools to r.
func Register(r *tools.Registry, opts Options) error {
	builtins := []tools.Tool{
		NewCurrentTimeTool(),
		NewHTTPFetchTool(opts.HTTPTimeout, opts.AllowedDomains),
	}
	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// ToolNames returns the names of all builtin tools.
func ToolNames() []string {
	return []string{"current_time", "http_fetch"}
}
