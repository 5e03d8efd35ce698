// Package server assembles the chat engine from configuration and runs it
// behind the HTTP gateway. Both `chatline serve` and `chatline chat` use it.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatline/internal/channel"
	"chatline/internal/chat"
	"chatline/internal/config"
	"chatline/internal/conversation"
	"chatline/internal/dispatch"
	"chatline/internal/executor"
	"chatline/internal/gateway"
	"chatline/internal/multitask"
	"chatline/internal/provider/openai"
	"chatline/internal/scenario"
	"chatline/internal/scope"
	"chatline/internal/stats"
	"chatline/internal/storage"
	"chatline/internal/tools"
	"chatline/internal/tools/builtin"
)

// Server owns every long-lived component of a running engine.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     zerolog.Logger

	db            *storage.DB
	channels      *channel.Registry
	health        *channel.HealthResetter
	presets       *scope.Presets
	catalog       *tools.Catalog
	groupsPath    string
	groupsWatcher *tools.GroupsWatcher
	chat          *chat.Service
	gatewayServer *gateway.Server

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	errChan   chan error
}

// ServerConfig holds the inputs for NewServer.
type ServerConfig struct {
	ConfigPath string
	// StoragePath, Host and Port override the config file when set.
	StoragePath string
	Host        string
	Port        int
	Logger      zerolog.Logger
}

// NewServer loads configuration and builds the engine. Nothing listens
// until Start.
func NewServer(sc ServerConfig) (*Server, error) {
	cfg, err := config.Load(sc.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if sc.StoragePath != "" {
		cfg.Storage.Path = sc.StoragePath
	}
	if sc.Host != "" {
		cfg.Gateway.Host = sc.Host
	}
	if sc.Port > 0 {
		cfg.Gateway.Port = sc.Port
	}

	s := &Server{
		cfg:        cfg,
		configPath: sc.ConfigPath,
		logger:     sc.Logger,
		errChan:    make(chan error, 1),
	}
	if err := s.build(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	cfg := s.cfg

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.channels = channel.NewRegistry(cfg.Channels,
		channel.WithErrorThreshold(cfg.Health.ErrorThreshold),
		channel.WithLogger(s.logger.With().Str("component", "channel").Logger()),
	)
	s.health, err = channel.NewHealthResetter(s.channels, cfg.Health.ResetSchedule, s.logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	if err := builtin.Register(registry, builtin.Options{HTTPTimeout: cfg.Tools.HTTPTimeout}); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}
	s.catalog = tools.NewCatalog(registry, s.loadGroups(registry))

	sink := stats.NewMultiSink(db, stats.NewLogSink(s.logger.With().Str("component", "stats").Logger()))
	exec := executor.New(s.channels, openai.Factory(),
		executor.WithOptions(executor.Options{
			MaxRetries:   cfg.Retry.MaxRetries,
			EmptyRetries: cfg.Retry.EmptyRetries,
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			EmptyDelay:   cfg.Retry.EmptyDelay,
		}),
		executor.WithToolExecutor(registry),
		executor.WithStatsSink(sink),
		executor.WithLogger(s.logger.With().Str("component", "executor").Logger()),
	)

	dispatcher := dispatch.New(exec, s.catalog,
		dispatch.WithTemperatures(cfg.Dispatch.Temperatures),
		dispatch.WithHistoryTurns(cfg.Dispatch.HistoryTurns),
		dispatch.WithMaxTokens(cfg.Dispatch.MaxTokens),
		dispatch.WithLogger(s.logger.With().Str("component", "dispatch").Logger()),
	)

	models := scenario.NewModels(cfg.Models)
	router := scenario.NewRouter(models, s.catalog, dispatcher,
		scenario.WithToolsEnabled(cfg.Tools.Enabled),
		scenario.WithDispatchEnabled(cfg.Dispatch.Enabled),
		scenario.WithLogger(s.logger.With().Str("component", "router").Logger()),
	)

	orch := multitask.New(s.logger.With().Str("component", "multitask").Logger())
	multitask.RegisterAll(orch, multitask.NewModelHandler(exec, models, s.catalog))

	s.presets = scope.NewPresets(scope.PresetsFromConfig(cfg.Presets), cfg.Prompt.DefaultPreset)
	scopes := scope.NewResolver(db, s.presets, cfg.Scope.CacheTTL, s.logger.With().Str("component", "scope").Logger())

	s.chat = chat.NewService(chat.Deps{
		History:       db,
		Scopes:        scopes,
		Router:        router,
		Runner:        exec,
		Models:        models,
		Orchestrator:  orch,
		Conversations: conversation.NewResolver(s.groupIsolation),
		Tracker:       conversation.NewTracker(cfg.Context.SerializeRequests),
		Stats:         sink,
	}, chat.ConfigFrom(cfg), chat.WithLogger(s.logger.With().Str("component", "chat").Logger()))

	s.gatewayServer = gateway.NewServer(cfg, gateway.Deps{
		Chat:     s.chat,
		Channels: s.channels,
		Resetter: s.health,
		Stats:    db,
		Groups:   s.catalog,

		Scopes:       scopes,
		ScopeRecords: db,
	})
	return nil
}

// loadGroups reads the tool-group file, falling back to one group per tool.
func (s *Server) loadGroups(registry *tools.Registry) []tools.Group {
	if s.cfg.Tools.GroupsFile != "" {
		path, err := config.ExpandPath(s.cfg.Tools.GroupsFile)
		if err == nil {
			s.groupsPath = path
			groups, err := tools.LoadGroupsFile(path)
			if err == nil {
				return groups
			}
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn().Err(err).Str("path", path).Msg("Failed to load tool groups, using defaults")
			}
		}
	}
	return tools.DefaultGroups(registry)
}

func (s *Server) groupIsolation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Context.GroupIsolation
}

// Chat returns the chat service.
func (s *Server) Chat() *chat.Service {
	return s.chat
}

// Config returns the active configuration.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Channels returns the channel registry.
func (s *Server) Channels() *channel.Registry {
	return s.channels
}

// ErrorChan reports gateway failures after Start.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// StartBackground starts the health resetter and the tool-group watcher.
// Start calls it; the interactive CLI uses it without the gateway.
func (s *Server) StartBackground() error {
	if err := s.health.Start(); err != nil {
		return err
	}
	if s.cfg.Tools.Watch && s.groupsPath != "" {
		w, err := tools.NewGroupsWatcher(s.catalog, s.groupsPath, s.logger.With().Str("component", "tools").Logger())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to create tool group watcher")
			return nil
		}
		if err := w.Start(); err != nil {
			w.Stop()
			s.logger.Warn().Err(err).Str("path", s.groupsPath).Msg("Failed to watch tool groups")
			return nil
		}
		s.groupsWatcher = w
	}
	return nil
}

// Start runs the background jobs and the gateway.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.StartBackground(); err != nil {
		return err
	}

	go func() {
		if err := s.gatewayServer.Start(); err != nil {
			s.errChan <- err
		}
	}()

	schema, err := s.db.SchemaVersion()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read schema version")
	}
	s.logger.Info().
		Int("channels", len(s.cfg.Channels)).
		Int("tool_groups", s.catalog.Len()).
		Str("storage", s.db.Path()).
		Int("schema_version", schema).
		Msg("chatline server started")
	return nil
}

// Reload re-reads the config file and swaps channels, presets and the
// group isolation flag in place. Other sections need a restart.
func (s *Server) Reload() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	s.mu.Lock()
	cfg.Storage = s.cfg.Storage
	cfg.Gateway = s.cfg.Gateway
	s.cfg = cfg
	s.mu.Unlock()

	s.channels.Replace(cfg.Channels)
	s.presets.Replace(scope.PresetsFromConfig(cfg.Presets), cfg.Prompt.DefaultPreset)
	if s.groupsWatcher != nil {
		s.groupsWatcher.Reload()
	}

	s.logger.Info().
		Int("channels", len(cfg.Channels)).
		Int("presets", len(cfg.Presets)).
		Bool("group_isolation", cfg.Context.GroupIsolation).
		Msg("Configuration reloaded")
	return nil
}

// IsRunning reports whether Start has been called.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the time since Start.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Stop shuts down the gateway and background jobs and closes the database.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	var err error
	if s.gatewayServer != nil {
		err = s.gatewayServer.Shutdown(ctx)
	}
	s.close()
	return err
}

func (s *Server) close() {
	if s.groupsWatcher != nil {
		s.groupsWatcher.Stop()
		s.groupsWatcher = nil
	}
	if s.health != nil {
		s.health.Stop()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close database")
		}
		s.db = nil
	}
}
