package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatline/internal/prompt"
	"chatline/internal/provider"
)

// ErrEmptyDispatch is logged when every dispatch attempt came back empty.
var ErrEmptyDispatch = errors.New("dispatch: empty response")

// DefaultTemperatures are used for the first call and the two retries.
var DefaultTemperatures = []float64{0.3, 0.5, 0.7}

const (
	defaultHistoryTurns = 5
	defaultMaxTokens    = 512
)

// Completer performs one tool-free model call.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Catalog is the part of the tool-group catalog the dispatcher reads.
type Catalog interface {
	Summary() string
	Has(index int) bool
}

// Input is one dispatch request.
type Input struct {
	Model   string
	Message string
	History []provider.Message
}

// Dispatcher runs the dispatch call and parses its answer.
type Dispatcher struct {
	completer    Completer
	catalog      Catalog
	temperatures []float64
	historyTurns int
	maxTokens    int
	logger       zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTemperatures sets the temperature of each attempt; its length bounds
// the number of attempts.
func WithTemperatures(temps []float64) Option {
	return func(d *Dispatcher) {
		if len(temps) > 0 {
			d.temperatures = temps
		}
	}
}

// WithHistoryTurns sets how many recent turns the prompt carries.
func WithHistoryTurns(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.historyTurns = n
		}
	}
}

// WithMaxTokens caps the dispatch answer.
func WithMaxTokens(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher.
func New(completer Completer, catalog Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		completer:    completer,
		catalog:      catalog,
		temperatures: DefaultTemperatures,
		historyTurns: defaultHistoryTurns,
		maxTokens:    defaultMaxTokens,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch never fails: errors and repeated empty answers yield
// DefaultResult.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) Result {
	res, err := d.dispatch(ctx, in)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("model", in.Model).
			Str("error_type", string(provider.ErrorTypeDispatch)).
			Str("cause", string(provider.Classify(err))).
			Msg("dispatch failed, using default")
		return DefaultResult()
	}
	d.logger.Debug().
		Str("model", in.Model).
		Ints("groups", res.ToolGroupIndexes).
		Int("tasks", len(res.Tasks)).
		Str("mode", string(res.ExecutionMode)).
		Msg("dispatch result")
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, in Input) (Result, error) {
	system, user, err := prompt.RenderDispatch(prompt.DispatchData{
		Groups:    d.catalog.Summary(),
		TaskTypes: lo.Map(TaskTypes, func(t TaskType, _ int) string { return string(t) }),
		History:   recentTurns(in.History, d.historyTurns),
		Message:   in.Message,
	})
	if err != nil {
		return Result{}, err
	}

	req := provider.Request{
		Model: in.Model,
		Messages: []provider.Message{
			provider.NewTextMessage(provider.RoleSystem, system),
			provider.NewTextMessage(provider.RoleUser, user),
		},
		MaxTokens: d.maxTokens,
	}

	for attempt, temp := range d.temperatures {
		req.Temperature = temp
		resp, err := d.completer.Complete(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if text := strings.TrimSpace(resp.Text()); text != "" {
			return ParseDispatchResponse(text, d.catalog.Has), nil
		}
		d.logger.Debug().Int("attempt", attempt+1).Float64("temperature", temp).Msg("empty dispatch response")
	}
	return Result{}, ErrEmptyDispatch
}

// recentTurns keeps the last n user/assistant exchanges, i.e. 2n messages.
func recentTurns(history []provider.Message, n int) []provider.Message {
	msgs := lo.Filter(history, func(m provider.Message, _ int) bool {
		return (m.Role == provider.RoleUser || m.Role == provider.RoleAssistant) && strings.TrimSpace(m.Text()) != ""
	})
	if limit := 2 * n; len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}
