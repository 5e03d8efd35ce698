package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/channel"
	"chatline/internal/config"
	"chatline/internal/conversation"
	"chatline/internal/dispatch"
	"chatline/internal/executor"
	"chatline/internal/multitask"
	"chatline/internal/provider"
	"chatline/internal/scenario"
	"chatline/internal/scope"
	"chatline/internal/stats"
	"chatline/internal/storage"
	"chatline/internal/tools"
)

type reply func(req provider.Request) (*provider.Response, error)

type clientFunc func(ctx context.Context, req provider.Request) (*provider.Response, error)

func (f clientFunc) SendMessage(ctx context.Context, req provider.Request) (*provider.Response, error) {
	return f(ctx, req)
}

// upstream answers per model and records every request it sees.
type upstream struct {
	mu       sync.Mutex
	replies  map[string]reply
	requests []provider.Request
}

func (u *upstream) factory() provider.ClientFactory {
	return provider.FactoryFunc(func(provider.ClientOptions) (provider.Client, error) {
		return clientFunc(func(_ context.Context, req provider.Request) (*provider.Response, error) {
			u.mu.Lock()
			u.requests = append(u.requests, req)
			fn, ok := u.replies[req.Model]
			u.mu.Unlock()
			if !ok {
				return nil, provider.NewProviderError(provider.ErrCodeModelNotFound, "unknown model "+req.Model, "fake", false)
			}
			return fn(req)
		}), nil
	})
}

func (u *upstream) requestsFor(model string) []provider.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return lo.Filter(u.requests, func(r provider.Request, _ int) bool { return r.Model == model })
}

func say(text string) reply {
	return func(provider.Request) (*provider.Response, error) {
		return &provider.Response{
			Contents: []provider.Content{provider.TextContent(text)},
			Usage:    &provider.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
		}, nil
	}
}

func authFailure(provider.Request) (*provider.Response, error) {
	return nil, provider.NewProviderError(provider.ErrCodeAuthFailed, "invalid api key", "fake", false)
}

type toolSink struct {
	stats.NopSink
	mu    sync.Mutex
	tools []stats.ToolCall
}

func (s *toolSink) RecordToolCall(_ context.Context, call stats.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, call)
	return nil
}

type stack struct {
	db      *storage.DB
	scopes  *scope.Resolver
	up      *upstream
	sink    *toolSink
	service *Service
}

// newStack wires the real components over sqlite and a fake upstream.
func newStack(t *testing.T, models config.ModelsConfig, cfg Config, replies map[string]reply) *stack {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &stack{
		db:   db,
		up:   &upstream{replies: replies},
		sink: &toolSink{},
	}
	s.scopes = scope.NewResolver(db, scope.NewPresets([]scope.Preset{
		{ID: "silent", Name: "Silent", SystemPrompt: "unused", DisableSystemPrompt: true},
		{ID: "cat", Name: "Cat", SystemPrompt: "You are a cat.", Model: "cat-model"},
	}, ""), time.Minute, zerolog.Nop())

	registry := channel.NewRegistry([]channel.Channel{{
		ID:          "main",
		Name:        "main",
		AdapterType: "openai",
		BaseURL:     "main",
		Models:      lo.Keys(replies),
		Keys:        []string{"k0"},
		Enabled:     true,
	}}, channel.WithErrorThreshold(100))

	exec := executor.New(registry, s.up.factory(),
		executor.WithStatsSink(s.sink),
		executor.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	catalog := tools.NewCatalog(tools.NewRegistry(), nil)
	m := scenario.NewModels(models)
	orch := multitask.New(zerolog.Nop())
	multitask.RegisterAll(orch, multitask.NewModelHandler(exec, m, catalog))

	s.service = NewService(Deps{
		History:      db,
		Scopes:       s.scopes,
		Router:       scenario.NewRouter(m, catalog, dispatch.New(exec, catalog)),
		Runner:       exec,
		Models:       m,
		Orchestrator: orch,
		Stats:        s.sink,
	}, cfg)
	return s
}

func TestSendMessage_FallbackAfterAuthFailure(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "primary", Fallbacks: []string{"backup"}}, DefaultConfig(),
		map[string]reply{
			"primary": authFailure,
			"backup":  say("answer from backup"),
		})

	res, err := s.service.SendMessage(context.Background(), Options{UserID: "1", Message: "hi", DebugMode: true})
	require.NoError(t, err)

	assert.Equal(t, "answer from backup", res.Text())
	assert.Equal(t, "backup", res.Model)
	require.NotNil(t, res.DebugInfo)
	assert.True(t, res.DebugInfo.FallbackUsed)
	assert.Equal(t, "chat", res.DebugInfo.Scenario)
	assert.Equal(t, "main", res.DebugInfo.Channel)
	assert.NotEmpty(t, res.DebugInfo.SwitchChain)
	assert.Equal(t, 6, res.Usage.TotalTokens)
}

func TestSendMessage_DrawTask(t *testing.T) {
	route := `{"toolGroupIndexes": [], "tasks": [{"type": "draw", "priority": 1, "params": {"drawPrompt": "a cat"}}], "executionMode": "sequential"}`
	s := newStack(t, config.ModelsConfig{Default: "talker", Dispatch: "router", Draw: "painter"}, DefaultConfig(),
		map[string]reply{
			"talker":  say("meow"),
			"router":  say(route),
			"painter": say("Here is your cat: ![cat](https://img.example/cat.png)"),
		})

	res, err := s.service.SendMessage(context.Background(), Options{UserID: "1", GroupID: "100", Message: "draw a cat"})
	require.NoError(t, err)

	assert.Equal(t, "group:100", res.ConversationID)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, dispatch.TaskDraw, res.Tasks[0].TaskType)
	assert.True(t, res.Tasks[0].Success)
	assert.True(t, lo.SomeBy(res.Response, provider.Content.IsImage), "reply carries an image")
	assert.Equal(t, "painter", res.Model)

	painted := s.up.requestsFor("painter")
	require.Len(t, painted, 1)
	last := painted[0].Messages[len(painted[0].Messages)-1]
	assert.Contains(t, last.Text(), "a cat")
	assert.Empty(t, s.up.requestsFor("talker"))
}

func TestSendMessage_TaskParameterOverrides(t *testing.T) {
	route := `{"tasks": [{"type": "draw", "priority": 1, "params": {"drawPrompt": "a cat"}}]}`
	s := newStack(t, config.ModelsConfig{Default: "talker", Dispatch: "router", Draw: "painter"}, DefaultConfig(),
		map[string]reply{
			"talker":  say("meow"),
			"router":  say(route),
			"painter": say("![cat](https://img.example/cat.png)"),
		})

	temp := 0.9
	_, err := s.service.SendMessage(context.Background(), Options{
		UserID: "1", Message: "draw a cat", Temperature: &temp, MaxTokens: 256,
	})
	require.NoError(t, err)

	painted := s.up.requestsFor("painter")
	require.Len(t, painted, 1)
	assert.Equal(t, 0.9, painted[0].Temperature)
	assert.Equal(t, 256, painted[0].MaxTokens)
}

func TestSendMessage_AllTasksFailed(t *testing.T) {
	route := `{"tasks": [{"type": "draw", "priority": 1}]}`
	s := newStack(t, config.ModelsConfig{Default: "talker", Dispatch: "router", Draw: "painter"}, DefaultConfig(),
		map[string]reply{
			"talker":  say("meow"),
			"router":  say(route),
			"painter": authFailure,
		})

	_, err := s.service.SendMessage(context.Background(), Options{UserID: "1", Message: "draw a dog"})
	assert.ErrorIs(t, err, ErrAllTasksFailed)
}

func TestSendMessage_GroupSharedHistory(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(),
		map[string]reply{"talker": say("noted")})
	ctx := context.Background()

	first, err := s.service.SendMessage(ctx, Options{
		UserID: "1", GroupID: "100", Message: "hello",
		Sender: &provider.Sender{UserID: "1", Nickname: "Alice"},
	})
	require.NoError(t, err)
	second, err := s.service.SendMessage(ctx, Options{
		UserID: "2", GroupID: "100", Message: "what did she say?",
		Sender: &provider.Sender{UserID: "2", Nickname: "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	reqs := s.up.requestsFor("talker")
	require.Len(t, reqs, 2)
	texts := lo.Map(reqs[1].Messages, func(m provider.Message, _ int) string { return m.Text() })
	assert.Contains(t, texts, "[Alice(1)]: hello")
	assert.Contains(t, texts, "noted")
	assert.Equal(t, "[Bob(2)]: what did she say?", texts[len(texts)-1])
	assert.Contains(t, texts[0], "Bob(2)", "system prompt names the speaker")

	count, err := s.db.CountMessages(ctx, "group:100")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	stored, err := s.db.GetContextHistory(ctx, "group:100", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored[0].Text(), "history is stored unlabelled")
}

func TestSendMessage_Validation(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(), map[string]reply{"talker": say("x")})

	tests := []struct {
		name string
		opts Options
	}{
		{"missing user", Options{Message: "hi"}},
		{"bad mode", Options{UserID: "1", Mode: "sideways"}},
		{"blank image", Options{UserID: "1", Images: []string{""}}},
		{"temperature", Options{UserID: "1", Temperature: lo.ToPtr(3.0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.service.SendMessage(context.Background(), tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
	assert.Empty(t, s.up.requestsFor("talker"))
}

func TestSendMessage_FailureWithoutAutoClean(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "primary"}, DefaultConfig(),
		map[string]reply{"primary": authFailure})

	res, err := s.service.SendMessage(context.Background(), Options{UserID: "7", Message: "hi"})
	assert.Nil(t, res)
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ErrCodeAuthFailed, pe.Code)
}

func TestSendMessage_AutoClean(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoClean = true
	cfg.AutoCleanNotice = "context reset"
	s := newStack(t, config.ModelsConfig{Default: "primary"}, cfg, map[string]reply{"primary": authFailure})
	ctx := context.Background()

	old := provider.NewTextMessage(provider.RoleUser, "old")
	require.NoError(t, s.db.AppendMessages(ctx, "user:7", old))
	require.NoError(t, s.db.AppendMessages(ctx, "7", old))

	res, err := s.service.SendMessage(ctx, Options{UserID: "7", Message: "hi"})
	require.NoError(t, err)
	assert.True(t, res.ContextReset)
	assert.Equal(t, "context reset", res.Text())
	assert.Equal(t, "user:7", res.ConversationID)

	for _, id := range []string{"user:7", "7"} {
		n, err := s.db.CountMessages(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, n, id)
	}
}

func TestSendMessage_SystemPrompt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalPrompt = "Keep answers short."
	s := newStack(t, config.ModelsConfig{Default: "talker"}, cfg, map[string]reply{"talker": say("arr")})
	ctx := context.Background()
	require.NoError(t, s.scopes.Put(ctx, scope.TypeUser, "1", scope.Settings{Prompt: "You are a pirate."}))

	systemOf := func(t *testing.T, opts Options) string {
		t.Helper()
		before := len(s.up.requestsFor("talker"))
		_, err := s.service.SendMessage(ctx, opts)
		require.NoError(t, err)
		reqs := s.up.requestsFor("talker")
		require.Len(t, reqs, before+1)
		first := reqs[before].Messages[0]
		if first.Role != provider.RoleSystem {
			return ""
		}
		return first.Text()
	}

	sys := systemOf(t, Options{UserID: "1", Message: "hi", SkipHistory: true, Memory: "likes parrots"})
	assert.True(t, strings.HasPrefix(sys, "You are a pirate."))
	assert.Contains(t, sys, "likes parrots")
	assert.True(t, strings.HasSuffix(sys, "Keep answers short."))

	sys = systemOf(t, Options{UserID: "1", Message: "hi", SkipHistory: true, Mode: "prepend"})
	assert.True(t, strings.HasPrefix(sys, "Keep answers short."))

	sys = systemOf(t, Options{UserID: "1", Message: "hi", SkipHistory: true, PrefixPersona: "override: You are a robot."})
	assert.True(t, strings.HasPrefix(sys, "You are a robot."))
	assert.NotContains(t, sys, "pirate")

	sys = systemOf(t, Options{UserID: "1", Message: "hi", SkipHistory: true, SkipPersona: true})
	assert.Equal(t, "Keep answers short.", sys)

	require.NoError(t, s.scopes.Put(ctx, scope.TypeUser, "2", scope.Settings{PresetID: "silent"}))
	sys = systemOf(t, Options{UserID: "2", Message: "hi", SkipHistory: true})
	assert.Empty(t, sys, "preset disables the system prompt")
}

func TestSendMessage_GlobalPreset(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(),
		map[string]reply{"talker": say("hi"), "cat-model": say("meow")})
	ctx := context.Background()
	require.NoError(t, s.scopes.Put(ctx, scope.TypeGlobal, scope.GlobalID, scope.Settings{PresetID: "cat"}))

	res, err := s.service.SendMessage(ctx, Options{UserID: "1", GroupID: "100", Message: "hi", DebugMode: true})
	require.NoError(t, err)
	assert.Equal(t, "cat-model", res.Model)
	require.NotNil(t, res.DebugInfo)
	assert.Equal(t, scope.TypeGlobal, res.DebugInfo.PersonaSource)
	assert.Contains(t, res.DebugInfo.SystemPrompt, "You are a cat.")

	res, err = s.service.SendMessage(ctx, Options{UserID: "1", GroupID: "100", Message: "hi", SkipPersona: true, DebugMode: true})
	require.NoError(t, err)
	assert.Equal(t, "cat-model", res.Model, "preset model applies without the persona text")
	require.NotNil(t, res.DebugInfo)
	assert.NotContains(t, res.DebugInfo.SystemPrompt, "You are a cat.")
	assert.Empty(t, s.up.requestsFor("talker"))
}

func TestSendMessage_SkipHistoryAndEvent(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(), map[string]reply{"talker": say("ok")})
	ctx := context.Background()

	event := json.RawMessage(`{"platform":"qq","message_id":42}`)
	res, err := s.service.SendMessage(ctx, Options{UserID: "5", Message: "hi", SkipHistory: true, Event: event})
	require.NoError(t, err)
	assert.JSONEq(t, string(event), string(res.Event))
	assert.Nil(t, res.DebugInfo, "debug info only in debug mode")

	n, err := s.db.CountMessages(ctx, "user:5")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendMessage_RecordsToolCalls(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(), map[string]reply{
		"talker": func(provider.Request) (*provider.Response, error) {
			return &provider.Response{ToolCallLogs: []provider.ToolCallLog{
				{Name: "current_time", Success: true, Duration: time.Millisecond},
				{Name: "http_fetch", Success: false},
			}}, nil
		},
	})

	res, err := s.service.SendMessage(context.Background(), Options{UserID: "1", Message: "what time is it"})
	require.NoError(t, err)
	assert.Len(t, res.ToolCallLogs, 2)

	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	require.Len(t, s.sink.tools, 2)
	assert.Equal(t, "current_time", s.sink.tools[0].Name)
	assert.True(t, s.sink.tools[0].Success)
	assert.Equal(t, "user:1", s.sink.tools[1].ConversationID)
	assert.False(t, s.sink.tools[1].Success)
}

func TestSendMessage_SerializedConversation(t *testing.T) {
	release := make(chan struct{})
	var active, peak int
	var mu sync.Mutex
	slow := func(provider.Request) (*provider.Response, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return say("done")(provider.Request{})
	}

	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(), map[string]reply{"talker": slow})
	s.service.deps.Tracker = conversation.NewTracker(true)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.SendMessage(context.Background(), Options{UserID: "1", Message: "hi"})
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, peak, "requests on one conversation run one at a time")
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(&config.Config{
		Context: config.ContextConfig{HistoryLimit: 0, AutoClean: true},
		Prompt:  config.PromptConfig{Global: "g", Mode: "override"},
	})
	assert.Equal(t, 20, c.HistoryLimit)
	assert.True(t, c.AutoClean)
	assert.Equal(t, config.DefaultAutoCleanNotice, c.AutoCleanNotice)
	assert.Equal(t, "override", string(c.PromptMode))

	assert.Equal(t, DefaultConfig(), ConfigFrom(nil))
}

func TestResetConversation(t *testing.T) {
	s := newStack(t, config.ModelsConfig{Default: "talker"}, DefaultConfig(), map[string]reply{"talker": say("ok")})
	ctx := context.Background()
	_, err := s.service.SendMessage(ctx, Options{UserID: "1", GroupID: "9", Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, s.service.ResetConversation(ctx, "1", "9"))
	n, err := s.db.CountMessages(ctx, s.service.ConversationID("1", "9"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
