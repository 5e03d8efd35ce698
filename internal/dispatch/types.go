// Package dispatch decides which tool groups a message needs and whether it
// splits into several typed sub-tasks.
package dispatch

import (
	"strings"
)

// TaskType is the closed set of sub-task kinds.
type TaskType string

const (
	TaskChat            TaskType = "chat"
	TaskTool            TaskType = "tool"
	TaskDraw            TaskType = "draw"
	TaskSearch          TaskType = "search"
	TaskImageUnderstand TaskType = "image_understand"
)

// TaskTypes lists every valid task type.
var TaskTypes = []TaskType{TaskChat, TaskTool, TaskDraw, TaskSearch, TaskImageUnderstand}

var taskAliases = map[string]TaskType{
	"image":            TaskImageUnderstand,
	"vision":           TaskImageUnderstand,
	"image_understand": TaskImageUnderstand,
	"imageunderstand":  TaskImageUnderstand,
	"draw":             TaskDraw,
	"paint":            TaskDraw,
	"search":           TaskSearch,
	"web_search":       TaskSearch,
	"tool":             TaskTool,
	"tools":            TaskTool,
	"chat":             TaskChat,
}

// ParseTaskType maps free-form model output to a TaskType. Unknown values
// become TaskChat.
func ParseTaskType(s string) TaskType {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	if t, ok := taskAliases[key]; ok {
		return t
	}
	return TaskChat
}

// Valid reports whether t is one of TaskTypes.
func (t TaskType) Valid() bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Scenario returns the model scenario a task of this type runs under.
func (t TaskType) Scenario() string {
	if t == TaskImageUnderstand {
		return "image"
	}
	return string(t)
}

// ExecutionMode controls how a task list runs.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// ParseExecutionMode returns ModeParallel for "parallel" and ModeSequential
// for anything else.
func ParseExecutionMode(s string) ExecutionMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeParallel)) {
		return ModeParallel
	}
	return ModeSequential
}

// Task is one unit of work. DependsOn is an index into the task list as the
// dispatcher returned it and always points at an earlier task.
type Task struct {
	Type      TaskType       `json:"type"`
	Priority  int            `json:"priority"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn *int           `json:"dependsOn,omitempty"`
}

// Param returns a string parameter, or "" when missing.
func (t Task) Param(key string) string {
	if t.Params == nil {
		return ""
	}
	s, _ := t.Params[key].(string)
	return s
}

// Result is the outcome of one dispatch call.
type Result struct {
	ToolGroupIndexes []int         `json:"toolGroupIndexes"`
	Tasks            []Task        `json:"tasks"`
	ExecutionMode    ExecutionMode `json:"executionMode"`
	Analysis         string        `json:"analysis,omitempty"`
}

// DefaultResult is the safe outcome used whenever dispatch fails: no tools,
// one chat task, sequential.
func DefaultResult() Result {
	return Result{
		ToolGroupIndexes: []int{},
		Tasks:            []Task{{Type: TaskChat, Priority: 1}},
		ExecutionMode:    ModeSequential,
	}
}

// IsMultiTask reports whether the result needs the multi-task orchestrator,
// i.e. it holds more than one task or a task that is neither chat nor tool.
func (r Result) IsMultiTask() bool {
	if len(r.Tasks) > 1 {
		return true
	}
	for _, t := range r.Tasks {
		if t.Type != TaskChat && t.Type != TaskTool {
			return true
		}
	}
	return false
}
