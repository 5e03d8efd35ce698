package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatline/internal/channel"
	"chatline/internal/provider"
	"chatline/internal/stats"
)

// Executor runs calls against the channel pool with retry and fallback.
type Executor struct {
	registry Registry
	factory  provider.ClientFactory
	tools    provider.ToolExecutor
	sink     stats.Sink
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithOptions sets the retry policy.
func WithOptions(o Options) Option {
	return func(e *Executor) { e.opts = o }
}

// WithToolExecutor sets the executor handed to clients for tool calls.
func WithToolExecutor(t provider.ToolExecutor) Option {
	return func(e *Executor) { e.tools = t }
}

// WithStatsSink sets where api-call records go.
func WithStatsSink(s stats.Sink) Option {
	return func(e *Executor) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSleep replaces the delay function, e.g. to make tests instant.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// New creates an Executor.
func New(registry Registry, factory provider.ClientFactory, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		factory:  factory,
		sink:     stats.NopSink{},
		opts:     DefaultOptions(),
		sleep:    sleepContext,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute tries the candidate models in order until one succeeds. The
// Result is always non-nil and one api-call record is written on every exit
// path. When every combination fails the last error is returned.
func (e *Executor) Execute(ctx context.Context, call Call) (res *Result, err error) {
	start := time.Now()
	res = &Result{}
	defer func() {
		res.Duration = time.Since(start)
		res.TotalRetries = max(len(res.Attempts)-1, 0)
		e.record(ctx, call, res, err)
	}()

	models := lo.Uniq(lo.Compact(call.Models))
	if len(models) == 0 {
		return res, ErrNoCandidates
	}

	var lastErr error
	for i, model := range models {
		resp, err := e.runModel(ctx, call.Request, model, i == 0, res)
		if err == nil {
			res.Response = resp
			res.FallbackUsed = i > 0
			return res, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if i+1 < len(models) {
			e.logger.Warn().Err(err).
				Str("model", model).
				Str("next_model", models[i+1]).
				Msg("model exhausted, falling back")
		}
	}
	return res, lastErr
}

// runModel drives one candidate model through its attempts.
func (e *Executor) runModel(ctx context.Context, req provider.Request, model string, primary bool, res *Result) (*provider.Response, error) {
	ch, ok := e.registry.BestChannel(model)
	if !ok {
		err := fmt.Errorf("%w %s", ErrNoChannel, model)
		res.Attempts = append(res.Attempts, Attempt{
			Model:     model,
			Outcome:   OutcomeError,
			ErrorType: provider.ErrorTypeUnknown,
			Error:     err.Error(),
		})
		return nil, err
	}
	sel, _ := e.registry.Key(ch.ID)
	res.SwitchChain = append(res.SwitchChain, hop(model, ch.ID, sel.KeyIndex))

	maxRetries := e.opts.MaxRetries
	if !primary {
		maxRetries = 1
	}
	s := &modelState{
		model:       model,
		primary:     primary,
		ch:          ch,
		sel:         sel,
		triedChans:  map[string]bool{ch.ID: true},
		triedKeys:   map[int]bool{sel.KeyIndex: true},
		res:         res,
		maxRetries:  maxRetries,
		emptyBudget: e.opts.EmptyRetries,
	}

	for {
		began := time.Now()
		resp, err := e.attempt(ctx, s.ch, s.sel, model, req)
		at := Attempt{
			Model:      model,
			ChannelID:  s.ch.ID,
			KeyIndex:   s.sel.KeyIndex,
			RetryCount: s.retries,
			Duration:   time.Since(began),
		}
		res.Model, res.ChannelID, res.ChannelName, res.KeyIndex = model, s.ch.ID, s.ch.Name, s.sel.KeyIndex

		if err == nil && resp != nil && resp.Usage != nil {
			e.registry.ReportUsage(s.ch.ID, resp.Usage.TotalTokens)
		}

		switch {
		case err == nil && !resp.IsEmpty():
			at.Outcome = OutcomeSuccess
			res.Attempts = append(res.Attempts, at)
			e.registry.ReportSuccess(s.ch.ID)
			return resp, nil

		case err == nil:
			at.Outcome = OutcomeEmpty
			at.ErrorType = provider.ErrorTypeEmpty
			res.Attempts = append(res.Attempts, at)
			e.registry.ReportError(s.ch.ID, channel.ErrorReport{
				KeyIndex:  s.sel.KeyIndex,
				ErrorType: provider.ErrorTypeEmpty,
				Message:   "empty response",
			})
			s.lastErr = fmt.Errorf("%w from %s on %s", ErrEmptyResponse, model, s.ch.ID)
			s.empties++

			if s.empties <= s.emptyBudget {
				e.logger.Debug().Str("model", model).Str("channel", s.ch.ID).Int("empty", s.empties).Msg("empty response, retrying")
				if err := e.sleep(ctx, e.opts.EmptyDelay*time.Duration(s.empties)); err != nil {
					return nil, err
				}
				continue
			}
			if e.rotateKey(s) || e.switchChannel(s) {
				continue
			}
			return nil, s.lastErr

		default:
			at.Outcome = OutcomeError
			at.Error = err.Error()
			if ctx.Err() != nil {
				res.Attempts = append(res.Attempts, at)
				return nil, ctx.Err()
			}
			etype := provider.Classify(err)
			at.ErrorType = etype
			res.Attempts = append(res.Attempts, at)
			e.registry.ReportError(s.ch.ID, channel.ErrorReport{
				KeyIndex:  s.sel.KeyIndex,
				ErrorType: etype,
				Message:   err.Error(),
			})
			s.lastErr = err
			e.logger.Warn().Err(err).
				Str("model", model).
				Str("channel", s.ch.ID).
				Int("key_index", s.sel.KeyIndex).
				Str("error_type", string(etype)).
				Int("retry", s.retries).
				Msg("model call failed")

			switch etype {
			case provider.ErrorTypeAuth:
				// 换 key 不计入重试次数
				if e.rotateKey(s) || e.switchChannel(s) {
					continue
				}
				return nil, s.lastErr
			case provider.ErrorTypeQuota:
				if e.switchChannel(s) {
					continue
				}
			}

			s.retries++
			if s.retries > s.maxRetries {
				return nil, s.lastErr
			}
			if err := e.sleep(ctx, e.opts.Backoff(s.retries)); err != nil {
				return nil, err
			}
		}
	}
}

// modelState is the mutable state of one candidate model's attempts.
type modelState struct {
	model   string
	primary bool

	ch  channel.Channel
	sel channel.KeySelection

	triedChans map[string]bool
	triedKeys  map[int]bool

	retries     int
	maxRetries  int
	empties     int
	emptyBudget int
	lastErr     error

	res *Result
}

// rotateKey moves to the next untried key of the current channel.
func (e *Executor) rotateKey(s *modelState) bool {
	next, ok := e.registry.NextKey(s.ch.ID, s.sel.KeyIndex)
	if !ok || s.triedKeys[next.KeyIndex] {
		return false
	}
	e.logger.Info().Str("model", s.model).Str("channel", s.ch.ID).
		Int("from_key", s.sel.KeyIndex).Int("to_key", next.KeyIndex).Msg("rotating api key")
	s.sel = next
	s.triedKeys[next.KeyIndex] = true
	s.res.SwitchChain = append(s.res.SwitchChain, hop(s.model, s.ch.ID, next.KeyIndex))
	return true
}

// switchChannel moves the primary model to an untried alternate channel.
func (e *Executor) switchChannel(s *modelState) bool {
	if !s.primary {
		return false
	}
	for _, alt := range e.registry.AlternateChannels(s.model, s.ch.ID) {
		if s.triedChans[alt.ID] {
			continue
		}
		sel, ok := e.registry.Key(alt.ID)
		if !ok {
			continue
		}
		e.logger.Info().Str("model", s.model).Str("from_channel", s.ch.ID).Str("to_channel", alt.ID).Msg("switching channel")
		s.ch, s.sel = alt, sel
		s.triedChans[alt.ID] = true
		s.triedKeys = map[int]bool{sel.KeyIndex: true}
		s.res.SwitchChain = append(s.res.SwitchChain, hop(s.model, alt.ID, sel.KeyIndex))
		return true
	}
	return false
}

// attempt sends one request; the in-flight counter covers exactly the call.
func (e *Executor) attempt(ctx context.Context, ch channel.Channel, sel channel.KeySelection, model string, req provider.Request) (*provider.Response, error) {
	e.registry.StartRequest(ch.ID)
	defer e.registry.EndRequest(ch.ID)

	client, err := e.factory.Create(provider.ClientOptions{
		AdapterType:  ch.AdapterType,
		BaseURL:      ch.BaseURL,
		APIKey:       sel.Key,
		Model:        model,
		Timeout:      ch.Advanced.Timeout,
		MaxTokens:    ch.Advanced.MaxTokens,
		MaxToolSteps: ch.Advanced.MaxToolSteps,
		Headers:      ch.Advanced.Headers,
		ToolExecutor: e.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", ch.ID, err)
	}

	req.Model = model
	if req.MaxTokens == 0 {
		req.MaxTokens = ch.Advanced.MaxTokens
	}
	req.Stream = req.Stream || ch.Advanced.Stream
	return client.SendMessage(ctx, req)
}

// Complete performs a single attempt on the best channel for req.Model,
// without retries or fallback.
func (e *Executor) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	ch, ok := e.registry.BestChannel(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoChannel, req.Model)
	}
	sel, _ := e.registry.Key(ch.ID)
	resp, err := e.attempt(ctx, ch, sel, req.Model, req)
	if err != nil {
		e.registry.ReportError(ch.ID, channel.ErrorReport{
			KeyIndex:  sel.KeyIndex,
			ErrorType: provider.Classify(err),
			Message:   err.Error(),
		})
		return nil, err
	}
	if resp.Usage != nil {
		e.registry.ReportUsage(ch.ID, resp.Usage.TotalTokens)
	}
	e.registry.ReportSuccess(ch.ID)
	return resp, nil
}

func (e *Executor) record(ctx context.Context, call Call, res *Result, err error) {
	rec := stats.APICall{
		ID:             uuid.New().String(),
		ConversationID: call.ConversationID,
		UserID:         call.UserID,
		GroupID:        call.GroupID,
		Scenario:       call.Scenario,
		Model:          res.Model,
		ChannelID:      res.ChannelID,
		ChannelName:    res.ChannelName,
		KeyIndex:       res.KeyIndex,
		Success:        err == nil,
		FallbackUsed:   res.FallbackUsed,
		TotalRetries:   res.TotalRetries,
		Attempts:       len(res.Attempts),
		SwitchChain:    res.SwitchChain,
		Duration:       res.Duration,
		CreatedAt:      time.Now(),
	}
	if rec.Model == "" && len(call.Models) > 0 {
		rec.Model = call.Models[0]
	}
	if err != nil {
		rec.ErrorType = string(ErrorTypeOf(err))
		rec.Error = err.Error()
	}
	if res.Response != nil && res.Response.Usage != nil {
		rec.PromptTokens = res.Response.Usage.PromptTokens
		rec.OutputTokens = res.Response.Usage.CompletionTokens
		rec.TotalTokens = res.Response.Usage.TotalTokens
	}

	// 请求被取消时仍要落统计
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := e.sink.RecordAPICall(ctx, rec); err != nil {
		e.logger.Warn().Err(err).Str("model", rec.Model).Msg("record api call failed")
	}
}
