package multitask

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/dispatch"
	"chatline/internal/provider"
)

func intPtr(i int) *int { return &i }

func textResult(s string) TaskResult {
	return TaskResult{
		Contents: []provider.Content{provider.TextContent(s)},
		Usage:    provider.Usage{TotalTokens: 1},
	}
}

func echoHandler(prefix string) HandlerFunc {
	return func(_ context.Context, _ Request, task dispatch.Task, _ *TaskResult) (TaskResult, error) {
		return textResult(prefix + task.Param("name")), nil
	}
}

func task(tt dispatch.TaskType, priority int, name string) dispatch.Task {
	return dispatch.Task{Type: tt, Priority: priority, Params: map[string]any{"name": name}}
}

func TestExecute_TaskIsolation(t *testing.T) {
	for _, mode := range []dispatch.ExecutionMode{dispatch.ModeSequential, dispatch.ModeParallel} {
		t.Run(string(mode), func(t *testing.T) {
			o := New(zerolog.Nop())
			o.Register(dispatch.TaskChat, echoHandler(""))
			o.Register(dispatch.TaskSearch, HandlerFunc(func(context.Context, Request, dispatch.Task, *TaskResult) (TaskResult, error) {
				panic("search backend exploded")
			}))
			o.Register(dispatch.TaskDraw, HandlerFunc(func(context.Context, Request, dispatch.Task, *TaskResult) (TaskResult, error) {
				return TaskResult{}, errors.New("painter offline")
			}))

			agg := o.Execute(context.Background(), Request{}, []dispatch.Task{
				task(dispatch.TaskChat, 1, "first"),
				task(dispatch.TaskSearch, 2, "second"),
				task(dispatch.TaskChat, 3, "third"),
			}, mode)

			assert.True(t, agg.Success)
			require.Len(t, agg.Results, 3)
			assert.True(t, agg.Results[0].Success)
			assert.False(t, agg.Results[1].Success)
			assert.Contains(t, agg.Results[1].Error, "search backend exploded")
			assert.Equal(t, dispatch.TaskSearch, agg.Results[1].TaskType)
			assert.True(t, agg.Results[2].Success)
			assert.Equal(t, "first\nthird", provider.JoinText(agg.Contents))
			assert.Equal(t, 2, agg.Usage.TotalTokens)

			failed := o.Execute(context.Background(), Request{}, []dispatch.Task{task(dispatch.TaskDraw, 1, "x")}, mode)
			assert.False(t, failed.Success)
			assert.Equal(t, "painter offline", failed.Results[0].Error)
		})
	}
}

func TestExecute_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, HandlerFunc(func(_ context.Context, _ Request, tk dispatch.Task, _ *TaskResult) (TaskResult, error) {
		mu.Lock()
		ran = append(ran, tk.Param("name"))
		mu.Unlock()
		return textResult(tk.Param("name")), nil
	}))

	agg := o.Execute(context.Background(), Request{}, []dispatch.Task{
		task(dispatch.TaskChat, 3, "c"),
		task(dispatch.TaskChat, 1, "a1"),
		task(dispatch.TaskChat, 2, "b"),
		task(dispatch.TaskChat, 1, "a2"),
	}, dispatch.ModeSequential)

	assert.Equal(t, []string{"a1", "a2", "b", "c"}, ran, "stable by priority")
	assert.Equal(t, "a1\na2\nb\nc", provider.JoinText(agg.Contents))
	assert.Equal(t, []int{1, 3, 2, 0}, []int{agg.Results[0].Index, agg.Results[1].Index, agg.Results[2].Index, agg.Results[3].Index})
}

func TestExecute_SequentialPassesPreviousResult(t *testing.T) {
	var prevs []string
	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, HandlerFunc(func(_ context.Context, _ Request, tk dispatch.Task, prev *TaskResult) (TaskResult, error) {
		if prev == nil {
			prevs = append(prevs, "")
		} else {
			prevs = append(prevs, prev.Text())
		}
		return textResult(tk.Param("name")), nil
	}))

	o.Execute(context.Background(), Request{}, []dispatch.Task{
		task(dispatch.TaskChat, 1, "one"),
		task(dispatch.TaskChat, 2, "two"),
		task(dispatch.TaskChat, 3, "three"),
	}, dispatch.ModeSequential)

	assert.Equal(t, []string{"", "one", "two"}, prevs)
}

func TestExecute_ParallelDependencyOrdering(t *testing.T) {
	var mu sync.Mutex
	finished := map[int]bool{}
	var violations []string
	var depPrev string

	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, HandlerFunc(func(_ context.Context, _ Request, tk dispatch.Task, prev *TaskResult) (TaskResult, error) {
		name := tk.Param("name")
		if tk.DependsOn != nil {
			mu.Lock()
			if !finished[*tk.DependsOn] {
				violations = append(violations, name)
			}
			mu.Unlock()
			if prev != nil {
				depPrev = prev.Text()
			}
		} else {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		switch name {
		case "base":
			finished[0] = true
		case "other":
			finished[1] = true
		}
		mu.Unlock()
		return textResult(name), nil
	}))

	dependent := task(dispatch.TaskChat, 0, "dependent")
	dependent.DependsOn = intPtr(0)

	agg := o.Execute(context.Background(), Request{}, []dispatch.Task{
		task(dispatch.TaskChat, 1, "base"),
		task(dispatch.TaskChat, 1, "other"),
		dependent,
	}, dispatch.ModeParallel)

	assert.Empty(t, violations, "dependent task started before its dependency finished")
	assert.Equal(t, "base", depPrev)
	assert.True(t, agg.Success)
	assert.Len(t, agg.Results, 3)
}

func TestExecute_ParallelRunsIndependentConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, HandlerFunc(func(context.Context, Request, dispatch.Task, *TaskResult) (TaskResult, error) {
		started.Done()
		<-release
		return textResult("ok"), nil
	}))

	done := make(chan AggregateResult)
	go func() {
		done <- o.Execute(context.Background(), Request{}, []dispatch.Task{
			task(dispatch.TaskChat, 1, "a"),
			task(dispatch.TaskChat, 1, "b"),
		}, dispatch.ModeParallel)
	}()

	started.Wait()
	close(release)
	agg := <-done
	assert.True(t, agg.Success)
}

func TestExecute_ChainedDependencies(t *testing.T) {
	var order []string
	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, HandlerFunc(func(_ context.Context, _ Request, tk dispatch.Task, _ *TaskResult) (TaskResult, error) {
		order = append(order, tk.Param("name"))
		return textResult(tk.Param("name")), nil
	}))

	second := task(dispatch.TaskChat, 1, "second")
	second.DependsOn = intPtr(0)
	third := task(dispatch.TaskChat, 0, "third")
	third.DependsOn = intPtr(1)

	o.Execute(context.Background(), Request{}, []dispatch.Task{
		task(dispatch.TaskChat, 5, "first"),
		second,
		third,
	}, dispatch.ModeParallel)

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestExecute_UnknownTypeUsesChatHandler(t *testing.T) {
	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, echoHandler("chat:"))

	agg := o.Execute(context.Background(), Request{}, []dispatch.Task{
		{Type: dispatch.TaskSearch, Priority: 1, Params: map[string]any{"name": "q"}},
		{Type: "teleport", Priority: 2, Params: map[string]any{"name": "t"}},
	}, dispatch.ModeSequential)

	assert.Equal(t, "chat:q\nchat:t", provider.JoinText(agg.Contents))
	assert.Equal(t, dispatch.TaskChat, agg.Results[1].TaskType)
}

func TestExecute_NoTasks(t *testing.T) {
	o := New(zerolog.Nop())
	o.Register(dispatch.TaskChat, echoHandler("default"))
	agg := o.Execute(context.Background(), Request{}, nil, dispatch.ModeParallel)
	assert.True(t, agg.Success)
	assert.Equal(t, "default", provider.JoinText(agg.Contents))
}
