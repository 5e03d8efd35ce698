package multitask

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chatline/internal/dispatch"
	"chatline/internal/executor"
	"chatline/internal/provider"
	"chatline/internal/scope"
)

// Runner issues one resilient model call.
type Runner interface {
	Execute(ctx context.Context, call executor.Call) (*executor.Result, error)
}

// ModelSelector resolves the model chain for a scenario.
type ModelSelector interface {
	ForScenario(scenario string, s scope.Settings) string
	Candidates(primary string) []string
}

// ToolResolver resolves tool definitions for tool and search tasks.
type ToolResolver interface {
	ToolsByGroupIndexes(indexes []int) []provider.Tool
	AllTools() []provider.Tool
}

// ModelHandler runs a task as one executor call with a task-specific user
// message, model and tool set.
type ModelHandler struct {
	runner Runner
	models ModelSelector
	tools  ToolResolver
}

// NewModelHandler creates a handler. tools may be nil.
func NewModelHandler(runner Runner, models ModelSelector, tools ToolResolver) *ModelHandler {
	return &ModelHandler{runner: runner, models: models, tools: tools}
}

// RegisterAll installs h for every task type.
func RegisterAll(o *Orchestrator, h Handler) {
	for _, t := range dispatch.TaskTypes {
		o.Register(t, h)
	}
}

// Handle implements Handler.
func (h *ModelHandler) Handle(ctx context.Context, req Request, task dispatch.Task, prev *TaskResult) (TaskResult, error) {
	scenario := task.Type.Scenario()
	model := h.models.ForScenario(scenario, req.Settings)

	messages := make([]provider.Message, 0, len(req.System)+len(req.History)+1)
	messages = append(messages, req.System...)
	messages = append(messages, req.History...)
	messages = append(messages, userMessage(req, task, prev))

	res := TaskResult{Model: model}
	call := executor.Call{
		Models: h.models.Candidates(model),
		Request: provider.Request{
			Messages:       messages,
			Tools:          h.toolsFor(req, task),
			MaxTokens:      req.MaxTokens,
			ConversationID: req.ConversationID,
		},
		Scenario:       scenario,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		GroupID:        req.GroupID,
	}
	if req.Temperature != nil {
		call.Request.Temperature = *req.Temperature
	}

	out, err := h.runner.Execute(ctx, call)
	if out != nil && out.Model != "" {
		res.Model = out.Model
	}
	if err != nil {
		return res, err
	}

	resp := out.Response
	res.Contents = resp.Contents
	res.ToolCallLogs = resp.ToolCallLogs
	if resp.Usage != nil {
		res.Usage = *resp.Usage
	}
	if task.Type == dispatch.TaskDraw {
		res.Contents = ExtractImages(res.Contents)
	}
	return res, nil
}

func (h *ModelHandler) toolsFor(req Request, task dispatch.Task) []provider.Tool {
	if h.tools == nil {
		return nil
	}
	switch task.Type {
	case dispatch.TaskTool:
		if len(req.ToolGroupIndexes) > 0 {
			if tools := h.tools.ToolsByGroupIndexes(req.ToolGroupIndexes); len(tools) > 0 {
				return tools
			}
		}
		return h.tools.AllTools()
	case dispatch.TaskSearch:
		return h.tools.AllTools()
	}
	return nil
}

// userMessage builds the task's user turn from its params, the original
// message and the previous task's result.
func userMessage(req Request, task dispatch.Task, prev *TaskResult) provider.Message {
	var text string
	switch task.Type {
	case dispatch.TaskDraw:
		p := firstNonEmpty(task.Param("drawPrompt"), task.Param("prompt"), req.Message)
		text = "Draw the following picture and reply with the image link only:\n" + p
	case dispatch.TaskSearch:
		q := firstNonEmpty(task.Param("query"), req.Message)
		text = fmt.Sprintf("Search for: %s\n\nThen answer the request: %s", q, req.Message)
	case dispatch.TaskTool:
		text = firstNonEmpty(task.Param("instruction"), req.Message)
	default:
		text = firstNonEmpty(task.Param("prompt"), req.Message)
	}

	if prev != nil && prev.Success {
		if prevText := strings.TrimSpace(prev.Text()); prevText != "" {
			text += fmt.Sprintf("\n\nResult of the previous %s task:\n%s", prev.TaskType, prevText)
		}
	}

	msg := provider.NewTextMessage(provider.RoleUser, text)
	if task.Type == dispatch.TaskImageUnderstand || (task.Type == dispatch.TaskChat && len(req.Images) > 0) {
		for _, url := range req.Images {
			msg.Content = append(msg.Content, provider.ImageContent(url))
		}
	}
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\(\s*([^)\s]+)\s*\)`)
	imageURLRe      = regexp.MustCompile(`(?i)(?:https?://[^\s)"'<>]+\.(?:png|jpe?g|gif|webp|bmp)(?:\?[^\s)"'<>]*)?|data:image/[a-z]+;base64,[a-z0-9+/=]+)`)
)

// ExtractImages turns image links inside text contents into image_url
// contents. Remaining text is kept; existing image contents pass through.
func ExtractImages(contents []provider.Content) []provider.Content {
	out := make([]provider.Content, 0, len(contents))
	for _, c := range contents {
		if c.Type != provider.ContentTypeText {
			out = append(out, c)
			continue
		}
		var urls []string
		rest := markdownImageRe.ReplaceAllStringFunc(c.Text, func(m string) string {
			urls = append(urls, markdownImageRe.FindStringSubmatch(m)[1])
			return ""
		})
		rest = imageURLRe.ReplaceAllStringFunc(rest, func(m string) string {
			urls = append(urls, m)
			return ""
		})
		if strings.TrimSpace(rest) != "" {
			out = append(out, provider.TextContent(strings.TrimSpace(rest)))
		}
		for _, u := range urls {
			out = append(out, provider.ImageContent(u))
		}
	}
	return out
}
