// Package provider defines the LLM client contract, message types and the
// error taxonomy shared by the orchestration layer.
package provider

import (
	"context"
	"time"
)

// Client sends one request to an upstream model endpoint.
type Client interface {
	SendMessage(ctx context.Context, req Request) (*Response, error)
}

// ToolExecutor runs a tool call on behalf of a client that supports
// function calling.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// ClientOptions configures a client for one channel and key.
type ClientOptions struct {
	AdapterType  string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxTokens    int
	MaxToolSteps int
	Headers      map[string]string
	ToolExecutor ToolExecutor
}

// ClientFactory creates clients bound to a channel key.
type ClientFactory interface {
	Create(opts ClientOptions) (Client, error)
}

// FactoryFunc adapts a function to ClientFactory.
type FactoryFunc func(opts ClientOptions) (Client, error)

// Create implements ClientFactory.
func (f FactoryFunc) Create(opts ClientOptions) (Client, error) {
	return f(opts)
}
