// Package scenario picks the model, scenario and tool set for a request.
package scenario

import (
	"context"

	"github.com/rs/zerolog"

	"chatline/internal/dispatch"
	"chatline/internal/provider"
	"chatline/internal/scope"
)

// Scenario is the logical purpose of a model call.
type Scenario string

const (
	ScenarioChat     Scenario = "chat"
	ScenarioTool     Scenario = "tool"
	ScenarioImage    Scenario = "image"
	ScenarioRoleplay Scenario = "roleplay"
	ScenarioDispatch Scenario = "dispatch"
)

// Dispatcher decides tool groups and sub-tasks. It never fails.
type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatch.Input) dispatch.Result
}

// ToolResolver resolves tool definitions.
type ToolResolver interface {
	ToolsByGroupIndexes(indexes []int) []provider.Tool
	AllTools() []provider.Tool
}

// Input describes the request being routed.
type Input struct {
	// Model is an explicit call-site override.
	Model     string
	HasImages bool
	Message   string
	History   []provider.Message
	Settings  scope.Settings
	Preset    scope.Preset
	// Roleplay is set when the speaker has an independent persona.
	Roleplay     bool
	DisableTools bool
}

// Selection is the routing decision.
type Selection struct {
	Model       string           `json:"model"`
	EnableTools bool             `json:"enableTools"`
	Tools       []provider.Tool  `json:"-"`
	Scenario    Scenario         `json:"scenario"`
	Dispatch    *dispatch.Result `json:"dispatch,omitempty"`
}

// Router implements the routing order: explicit model, images, tool-group
// dispatch, then chat.
type Router struct {
	models          *Models
	tools           ToolResolver
	dispatcher      Dispatcher
	toolsEnabled    bool
	dispatchEnabled bool
	logger          zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithToolsEnabled sets the global tool switch.
func WithToolsEnabled(enabled bool) Option {
	return func(r *Router) { r.toolsEnabled = enabled }
}

// WithDispatchEnabled sets the tool-group dispatch switch.
func WithDispatchEnabled(enabled bool) Option {
	return func(r *Router) { r.dispatchEnabled = enabled }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router. tools and dispatcher may be nil.
func NewRouter(models *Models, tools ToolResolver, dispatcher Dispatcher, opts ...Option) *Router {
	r := &Router{
		models:          models,
		tools:           tools,
		dispatcher:      dispatcher,
		toolsEnabled:    true,
		dispatchEnabled: true,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select routes one request.
func (r *Router) Select(ctx context.Context, in Input) Selection {
	sel := r.selectScenario(ctx, in)
	if len(sel.Tools) == 0 {
		sel.EnableTools = false
		sel.Tools = nil
	}
	r.logger.Debug().
		Str("scenario", string(sel.Scenario)).
		Str("model", sel.Model).
		Bool("tools", sel.EnableTools).
		Int("tool_count", len(sel.Tools)).
		Msg("scenario selected")
	return sel
}

func (r *Router) selectScenario(ctx context.Context, in Input) Selection {
	allowed := r.toolsAllowed(in)
	hasToolModel := r.models.Configured("tool", in.Settings) != ""

	// 1. explicit model: tools only when a preset or scope turns them on
	if in.Model != "" {
		sel := Selection{Model: in.Model, Scenario: ScenarioChat}
		if allowed && explicitlyEnabled(in) {
			sel.EnableTools, sel.Tools = true, r.tools.AllTools()
		}
		return sel
	}

	// 2. images skip dispatch
	if in.HasImages {
		model := r.models.Configured("image", in.Settings)
		if model == "" {
			model = r.chatModel(in)
		}
		sel := Selection{Model: model, Scenario: ScenarioImage}
		if allowed && !hasToolModel {
			sel.EnableTools, sel.Tools = true, r.tools.AllTools()
		}
		return sel
	}

	// 3. tool-group dispatch
	dispatchModel := r.models.Configured("dispatch", in.Settings)
	if allowed && r.dispatchEnabled && dispatchModel != "" && r.dispatcher != nil {
		res := r.dispatcher.Dispatch(ctx, dispatch.Input{
			Model:   dispatchModel,
			Message: in.Message,
			History: in.History,
		})
		tools := r.tools.ToolsByGroupIndexes(res.ToolGroupIndexes)

		if res.IsMultiTask() {
			return Selection{
				Model:       r.chatModel(in),
				Scenario:    ScenarioDispatch,
				Dispatch:    &res,
				EnableTools: len(tools) > 0,
				Tools:       tools,
			}
		}
		if len(tools) > 0 {
			model := r.models.Configured("tool", in.Settings)
			if model == "" {
				model = r.chatModel(in)
			}
			return Selection{Model: model, Scenario: ScenarioTool, EnableTools: true, Tools: tools, Dispatch: &res}
		}
		sel := r.chat(in)
		sel.Dispatch = &res
		return sel
	}

	// 4. chat; tools only when no dedicated tool model exists
	sel := r.chat(in)
	if allowed && !hasToolModel {
		sel.EnableTools, sel.Tools = true, r.tools.AllTools()
	}
	return sel
}

func (r *Router) chat(in Input) Selection {
	if in.Roleplay && in.Preset.Model == "" {
		if model := r.models.Configured("roleplay", in.Settings); model != "" {
			return Selection{Model: model, Scenario: ScenarioRoleplay}
		}
	}
	return Selection{Model: r.chatModel(in), Scenario: ScenarioChat}
}

// chatModel: preset model, then scope model, then global chat, then default.
func (r *Router) chatModel(in Input) string {
	if in.Preset.Model != "" {
		return in.Preset.Model
	}
	return r.models.ForScenario("chat", in.Settings)
}

func (r *Router) toolsAllowed(in Input) bool {
	if !r.toolsEnabled || in.DisableTools || r.tools == nil {
		return false
	}
	if !in.Settings.ToolsAllowed() {
		return false
	}
	return in.Preset.ToolsEnabled == nil || *in.Preset.ToolsEnabled
}

func explicitlyEnabled(in Input) bool {
	if in.Preset.ToolsEnabled != nil && *in.Preset.ToolsEnabled {
		return true
	}
	return in.Settings.Features.ToolsEnabled != nil && *in.Settings.Features.ToolsEnabled
}
