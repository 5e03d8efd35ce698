// Package chat is the entry point that turns one inbound message into a
// model-backed reply.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatline/internal/conversation"
	"chatline/internal/dispatch"
	"chatline/internal/executor"
	"chatline/internal/multitask"
	"chatline/internal/prompt"
	"chatline/internal/provider"
	"chatline/internal/scenario"
	"chatline/internal/scope"
	"chatline/internal/stats"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// History stores conversation messages. *storage.DB implements it.
type History interface {
	GetContextHistory(ctx context.Context, conversationID string, limit int) ([]provider.Message, error)
	AppendMessages(ctx context.Context, conversationID string, msgs ...provider.Message) error
	DeleteConversation(ctx context.Context, conversationID string) error
	CountMessages(ctx context.Context, conversationID string) (int, error)
}

// ScopeResolver resolves scope settings and personas.
type ScopeResolver interface {
	GetEffectiveSettings(ctx context.Context, groupID, userID string, isPrivate bool) (scope.Settings, error)
	GetIndependentPrompt(ctx context.Context, groupID, userID, defaultPrompt string) (scope.Persona, error)
}

// Router picks the scenario of a request.
type Router interface {
	Select(ctx context.Context, in scenario.Input) scenario.Selection
}

// Runner issues one resilient model call.
type Runner interface {
	Execute(ctx context.Context, call executor.Call) (*executor.Result, error)
}

// Orchestrator runs dispatched sub-tasks.
type Orchestrator interface {
	Execute(ctx context.Context, req multitask.Request, tasks []dispatch.Task, mode dispatch.ExecutionMode) multitask.AggregateResult
}

// ModelChain expands a primary model into its fallback chain.
type ModelChain interface {
	Candidates(primary string) []string
}

// Deps are the collaborators of a Service. Conversations, Tracker and
// Stats are optional.
type Deps struct {
	History       History
	Scopes        ScopeResolver
	Router        Router
	Runner        Runner
	Models        ModelChain
	Orchestrator  Orchestrator
	Conversations *conversation.Resolver
	Tracker       *conversation.Tracker
	Stats         stats.Sink
}

// Service handles inbound messages.
type Service struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	if deps.Conversations == nil {
		deps.Conversations = conversation.NewResolver(nil)
	}
	if deps.Tracker == nil {
		deps.Tracker = conversation.NewTracker(false)
	}
	if deps.Stats == nil {
		deps.Stats = stats.NopSink{}
	}
	s := &Service{deps: deps, cfg: cfg.normalize(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationID returns the conversation a sender writes to.
func (s *Service) ConversationID(userID, groupID string) string {
	return s.deps.Conversations.Resolve(userID, groupID)
}

// ResetConversation deletes the current and legacy histories of a sender.
func (s *Service) ResetConversation(ctx context.Context, userID, groupID string) error {
	return s.deps.Conversations.Delete(ctx, s.deps.History, userID, groupID)
}

// ConversationStatus counts the stored messages of the sender's current
// conversation and the requests running on it.
func (s *Service) ConversationStatus(ctx context.Context, userID, groupID string) (ConversationStatus, error) {
	id := s.ConversationID(userID, groupID)
	n, err := s.deps.History.CountMessages(ctx, id)
	if err != nil {
		return ConversationStatus{}, fmt.Errorf("count messages: %w", err)
	}
	return ConversationStatus{ConversationID: id, Messages: n, Active: s.deps.Tracker.Active(id)}, nil
}

// request is the state gathered before the model call.
type request struct {
	opts     Options
	convID   string
	shared   bool
	settings scope.Settings
	persona  scope.Persona
	system   []provider.Message
	sysText  string
	history  []provider.Message
	user     provider.Message
}

// SendMessage answers one message. On failure with auto-clean enabled the
// conversation is reset and the notice is returned instead of the error.
func (s *Service) SendMessage(ctx context.Context, opts Options) (*Result, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	start := time.Now()

	convID := s.deps.Conversations.Resolve(opts.UserID, opts.GroupID)
	end := s.deps.Tracker.Begin(convID)
	defer end()

	req, err := s.prepare(ctx, opts, convID)
	if err != nil {
		return nil, err
	}

	sel := s.deps.Router.Select(ctx, scenario.Input{
		Model:        opts.Model,
		HasImages:    len(opts.Images) > 0,
		Message:      opts.Message,
		History:      req.history,
		Settings:     req.settings,
		Preset:       req.persona.Preset,
		Roleplay:     req.persona.IsIndependent,
		DisableTools: opts.DisableTools,
	})

	var res *Result
	if sel.Scenario == scenario.ScenarioDispatch && sel.Dispatch != nil {
		res, err = s.runTasks(ctx, req, sel)
	} else {
		res, err = s.runSingle(ctx, req, sel)
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str("conversation", convID).
			Str("scenario", string(sel.Scenario)).
			Str("model", sel.Model).
			Msg("chat request failed")
		return s.autoClean(ctx, req, res, err)
	}

	s.remember(ctx, req, res.Response)
	s.recordTools(ctx, convID, res.ToolCallLogs)

	res.ConversationID = convID
	res.Event = opts.Event
	if opts.DebugMode {
		if res.DebugInfo == nil {
			res.DebugInfo = &DebugInfo{}
		}
		d := res.DebugInfo
		d.Scenario = string(sel.Scenario)
		d.Dispatch = sel.Dispatch
		d.Tools = lo.Map(sel.Tools, func(t provider.Tool, _ int) string { return t.Function.Name })
		d.PersonaSource = req.persona.Source
		d.SystemPrompt = req.sysText
		d.HistoryLength = len(req.history)
		d.Duration = time.Since(start)
	} else {
		res.DebugInfo = nil
	}
	return res, nil
}

// prepare resolves scope, persona, system prompt and history.
func (s *Service) prepare(ctx context.Context, opts Options, convID string) (*request, error) {
	req := &request{
		opts:   opts,
		convID: convID,
		shared: s.deps.Conversations.Shared(opts.GroupID),
	}
	isPrivate := opts.GroupID == ""

	if s.deps.Scopes != nil {
		settings, err := s.deps.Scopes.GetEffectiveSettings(ctx, opts.GroupID, opts.UserID, isPrivate)
		if err != nil {
			s.logger.Warn().Err(err).Str("user", opts.UserID).Str("group", opts.GroupID).Msg("scope settings unavailable")
		}
		req.settings = settings

		persona, err := s.deps.Scopes.GetIndependentPrompt(ctx, opts.GroupID, opts.UserID, "")
		if err != nil {
			s.logger.Warn().Err(err).Str("user", opts.UserID).Msg("persona unavailable")
		}
		if opts.SkipPersona {
			// 跳过人设文本，预设的模型与开关仍然生效
			persona = scope.Persona{Source: persona.Source, Preset: persona.Preset}
		}
		req.persona = persona
	}

	sender := opts.Sender
	if sender == nil {
		sender = &provider.Sender{UserID: opts.UserID}
	}
	req.user = provider.NewTextMessage(provider.RoleUser, opts.Message)
	for _, url := range opts.Images {
		req.user.Content = append(req.user.Content, provider.ImageContent(url))
	}
	req.user.Sender = sender

	var speaker string
	if req.shared {
		speaker = speakerName(sender)
	}
	mode := s.cfg.PromptMode
	if opts.Mode != "" {
		mode = prompt.ParseMode(opts.Mode)
	}
	sys, ok, err := prompt.NewAssembler(s.cfg.GlobalPrompt, mode).SystemMessage(prompt.Layers{
		Persona:       req.persona.Prompt,
		PrefixPersona: opts.PrefixPersona,
		Memory:        opts.Memory,
		Knowledge:     opts.Knowledge,
		Speaker:       speaker,
		Disabled:      req.persona.Preset.DisableSystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	if ok {
		req.system = []provider.Message{sys}
		req.sysText = sys.Text()
	}

	if !opts.SkipHistory && s.deps.History != nil {
		history, err := s.deps.History.GetContextHistory(ctx, convID, s.cfg.HistoryLimit)
		if err != nil {
			s.logger.Warn().Err(err).Str("conversation", convID).Msg("load history failed")
		}
		if req.shared {
			history = lo.Map(history, func(m provider.Message, _ int) provider.Message {
				return conversation.LabelSender(m)
			})
		}
		req.history = history
	}
	return req, nil
}

// modelMessage is the user turn as the model sees it.
func (r *request) modelMessage() provider.Message {
	if r.shared {
		return conversation.LabelSender(r.user)
	}
	return r.user
}

func (s *Service) runSingle(ctx context.Context, req *request, sel scenario.Selection) (*Result, error) {
	messages := make([]provider.Message, 0, len(req.system)+len(req.history)+1)
	messages = append(messages, req.system...)
	messages = append(messages, req.history...)
	messages = append(messages, req.modelMessage())

	call := executor.Call{
		Models: s.deps.Models.Candidates(sel.Model),
		Request: provider.Request{
			Messages:       messages,
			Tools:          sel.Tools,
			MaxTokens:      req.opts.MaxTokens,
			ConversationID: req.convID,
		},
		Scenario:       string(sel.Scenario),
		ConversationID: req.convID,
		UserID:         req.opts.UserID,
		GroupID:        req.opts.GroupID,
	}
	if req.opts.Temperature != nil {
		call.Request.Temperature = *req.opts.Temperature
	}

	out, err := s.deps.Runner.Execute(ctx, call)
	res := &Result{Model: sel.Model}
	if out != nil {
		res.DebugInfo = &DebugInfo{
			Model:        out.Model,
			Channel:      out.ChannelID,
			KeyIndex:     out.KeyIndex,
			FallbackUsed: out.FallbackUsed,
			TotalRetries: out.TotalRetries,
			Attempts:     out.Attempts,
			SwitchChain:  out.SwitchChain,
		}
		if out.Model != "" {
			res.Model = out.Model
		}
	}
	if err != nil {
		return res, err
	}

	res.Response = out.Response.Contents
	res.ToolCallLogs = out.Response.ToolCallLogs
	if out.Response.Usage != nil {
		res.Usage = *out.Response.Usage
	}
	return res, nil
}

func (s *Service) runTasks(ctx context.Context, req *request, sel scenario.Selection) (*Result, error) {
	agg := s.deps.Orchestrator.Execute(ctx, multitask.Request{
		System:           req.system,
		History:          req.history,
		Message:          req.opts.Message,
		Images:           req.opts.Images,
		Settings:         req.settings,
		ToolGroupIndexes: sel.Dispatch.ToolGroupIndexes,
		Temperature:      req.opts.Temperature,
		MaxTokens:        req.opts.MaxTokens,
		ConversationID:   req.convID,
		UserID:           req.opts.UserID,
		GroupID:          req.opts.GroupID,
	}, sel.Dispatch.Tasks, sel.Dispatch.ExecutionMode)

	res := &Result{
		Response:     agg.Contents,
		Usage:        agg.Usage,
		ToolCallLogs: agg.ToolCallLogs,
		Tasks:        agg.Results,
		Model:        sel.Model,
	}
	if first, ok := lo.Find(agg.Results, func(r multitask.TaskResult) bool { return r.Success }); ok && first.Model != "" {
		res.Model = first.Model
	}
	res.DebugInfo = &DebugInfo{Model: res.Model}

	if !agg.Success {
		errs := lo.FilterMap(agg.Results, func(r multitask.TaskResult, _ int) (string, bool) {
			return fmt.Sprintf("%s: %s", r.TaskType, r.Error), r.Error != ""
		})
		return res, fmt.Errorf("%w: %s", ErrAllTasksFailed, strings.Join(errs, "; "))
	}
	return res, nil
}

// autoClean applies the auto-clean policy to a failed request.
func (s *Service) autoClean(ctx context.Context, req *request, partial *Result, cause error) (*Result, error) {
	if !s.cfg.AutoClean {
		return nil, cause
	}
	if err := s.deps.Conversations.Delete(ctx, s.deps.History, req.opts.UserID, req.opts.GroupID); err != nil {
		s.logger.Error().Err(err).Str("conversation", req.convID).Msg("auto-clean failed")
		return nil, cause
	}
	s.logger.Info().Str("conversation", req.convID).Msg("conversation auto-cleaned after failure")

	res := &Result{
		ConversationID: req.convID,
		Response:       []provider.Content{provider.TextContent(s.cfg.AutoCleanNotice)},
		ContextReset:   true,
		Event:          req.opts.Event,
	}
	if partial != nil {
		res.Model = partial.Model
		if req.opts.DebugMode {
			res.DebugInfo = partial.DebugInfo
		}
	}
	return res, nil
}

// remember appends the exchange to the conversation history.
func (s *Service) remember(ctx context.Context, req *request, reply []provider.Content) {
	if req.opts.SkipHistory || s.deps.History == nil {
		return
	}
	assistant := provider.Message{
		Role:      provider.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	}
	if err := s.deps.History.AppendMessages(ctx, req.convID, req.user, assistant); err != nil {
		s.logger.Warn().Err(err).Str("conversation", req.convID).Msg("save history failed")
	}
}

func (s *Service) recordTools(ctx context.Context, convID string, logs []provider.ToolCallLog) {
	now := time.Now()
	for _, l := range logs {
		err := s.deps.Stats.RecordToolCall(ctx, stats.ToolCall{
			Name:           l.Name,
			Success:        l.Success,
			ConversationID: convID,
			Duration:       l.Duration,
			CreatedAt:      now,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", l.Name).Msg("record tool call failed")
		}
	}
}

func speakerName(sender *provider.Sender) string {
	name := sender.DisplayName()
	if name == "" {
		return ""
	}
	if sender.UserID != "" && name != sender.UserID {
		return fmt.Sprintf("%s(%s)", name, sender.UserID)
	}
	return name
}
