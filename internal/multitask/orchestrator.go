// Package multitask runs the sub-tasks produced by dispatch, sequentially or
// in two parallel phases, and aggregates their results.
package multitask

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"chatline/internal/dispatch"
	"chatline/internal/provider"
	"chatline/internal/scope"
)

// Request is the context shared by every task of one inbound message.
type Request struct {
	// System holds the pre-built system message, if any.
	System           []provider.Message
	History          []provider.Message
	Message          string
	Images           []string
	Settings         scope.Settings
	ToolGroupIndexes []int

	// Temperature and MaxTokens override the model defaults when set.
	Temperature *float64
	MaxTokens   int

	ConversationID string
	UserID         string
	GroupID        string
}

// TaskResult is the outcome of one task.
type TaskResult struct {
	Index        int                    `json:"index"`
	Success      bool                   `json:"success"`
	TaskType     dispatch.TaskType      `json:"taskType"`
	Contents     []provider.Content     `json:"contents"`
	Usage        provider.Usage         `json:"usage"`
	ToolCallLogs []provider.ToolCallLog `json:"toolCallLogs,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Duration     time.Duration          `json:"duration"`
	Error        string                 `json:"error,omitempty"`
}

// Text joins the text contents of the result.
func (r TaskResult) Text() string {
	return provider.JoinText(r.Contents)
}

// AggregateResult combines all task results in execution order.
type AggregateResult struct {
	Success      bool                   `json:"success"`
	Results      []TaskResult           `json:"results"`
	Contents     []provider.Content     `json:"contents"`
	Usage        provider.Usage         `json:"usage"`
	ToolCallLogs []provider.ToolCallLog `json:"toolCallLogs,omitempty"`
}

// Handler runs one task type. prev is the result the task builds on, or nil.
type Handler interface {
	Handle(ctx context.Context, req Request, task dispatch.Task, prev *TaskResult) (TaskResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request, task dispatch.Task, prev *TaskResult) (TaskResult, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request, task dispatch.Task, prev *TaskResult) (TaskResult, error) {
	return f(ctx, req, task, prev)
}

// Orchestrator executes task lists.
type Orchestrator struct {
	handlers map[dispatch.TaskType]Handler
	logger   zerolog.Logger
}

// New creates an orchestrator without handlers.
func New(logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		handlers: make(map[dispatch.TaskType]Handler),
		logger:   logger,
	}
}

// Register sets the handler for a task type.
func (o *Orchestrator) Register(t dispatch.TaskType, h Handler) {
	o.handlers[t] = h
}

// order returns task indexes stable-sorted by ascending priority.
func order(tasks []dispatch.Task) []int {
	idx := make([]int, len(tasks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return tasks[idx[a]].Priority < tasks[idx[b]].Priority
	})
	return idx
}

// Execute runs tasks and never returns an error: failures and panics are
// captured per task.
func (o *Orchestrator) Execute(ctx context.Context, req Request, tasks []dispatch.Task, mode dispatch.ExecutionMode) AggregateResult {
	if len(tasks) == 0 {
		tasks = dispatch.DefaultResult().Tasks
	}
	seq := order(tasks)
	results := make([]TaskResult, len(tasks))

	if mode == dispatch.ModeParallel {
		o.runParallel(ctx, req, tasks, seq, results)
	} else {
		var prev *TaskResult
		for _, i := range seq {
			results[i] = o.run(ctx, req, tasks[i], i, prev)
			prev = &results[i]
		}
	}

	agg := AggregateResult{Results: make([]TaskResult, 0, len(tasks))}
	for _, i := range seq {
		r := results[i]
		agg.Results = append(agg.Results, r)
		if r.Success {
			agg.Success = true
		}
		agg.Contents = append(agg.Contents, r.Contents...)
		agg.Usage.Add(&r.Usage)
		agg.ToolCallLogs = append(agg.ToolCallLogs, r.ToolCallLogs...)
	}
	return agg
}

// runParallel fans out independent tasks and waits for all of them, then
// runs dependent tasks one by one once their dependency has a result.
func (o *Orchestrator) runParallel(ctx context.Context, req Request, tasks []dispatch.Task, seq []int, results []TaskResult) {
	done := make([]bool, len(tasks))
	var pending []int

	var wg conc.WaitGroup
	for _, i := range seq {
		if tasks[i].DependsOn != nil {
			pending = append(pending, i)
			continue
		}
		wg.Go(func() {
			results[i] = o.run(ctx, req, tasks[i], i, nil)
		})
		done[i] = true
	}
	wg.Wait()

	for len(pending) > 0 {
		var waiting []int
		for _, i := range pending {
			dep := *tasks[i].DependsOn
			switch {
			case dep < 0 || dep >= len(tasks) || dep == i:
				results[i] = o.run(ctx, req, tasks[i], i, nil)
				done[i] = true
			case done[dep]:
				results[i] = o.run(ctx, req, tasks[i], i, &results[dep])
				done[i] = true
			default:
				waiting = append(waiting, i)
			}
		}
		if len(waiting) == len(pending) {
			// 依赖成环，剩余任务不带前置结果执行
			for _, i := range waiting {
				results[i] = o.run(ctx, req, tasks[i], i, nil)
			}
			return
		}
		pending = waiting
	}
}

// run executes one task and converts errors and panics into a failed result.
func (o *Orchestrator) run(ctx context.Context, req Request, task dispatch.Task, index int, prev *TaskResult) (res TaskResult) {
	start := time.Now()
	taskType := task.Type
	if !taskType.Valid() {
		taskType = dispatch.TaskChat
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("task_type", string(taskType)).
				Msg("task panicked")
			res = TaskResult{Error: fmt.Sprintf("task panicked: %v", r)}
		}
		res.Index = index
		res.TaskType = taskType
		res.Duration = time.Since(start)
	}()

	h, ok := o.handlers[taskType]
	if !ok {
		h, ok = o.handlers[dispatch.TaskChat]
	}
	if !ok {
		return TaskResult{Error: fmt.Sprintf("no handler for task type %s", taskType)}
	}

	res, err := h.Handle(ctx, req, task, prev)
	if err != nil {
		o.logger.Warn().Err(err).Str("task_type", string(taskType)).Int("index", index).Msg("task failed")
		res.Success = false
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}
