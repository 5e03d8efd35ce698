// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"chatline/internal/config"
	"chatline/internal/gateway/handlers"
	"chatline/internal/gateway/middleware"
	"chatline/pkg/logger"
)

// Deps are the services the routes call. Chat is required; routes whose
// dependency is nil are not registered.
type Deps struct {
	Chat     handlers.ChatService
	Channels handlers.ChannelSnapshotter
	Resetter handlers.HealthResetter
	Stats    handlers.StatsStore
	Groups   handlers.ToolGroupLister
	// Scopes edits scope layers; ScopeRecords lists them.
	Scopes       handlers.ScopeEditor
	ScopeRecords handlers.ScopeLister
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	config      *config.Config
	deps        Deps
	rateLimiter *middleware.RateLimiter
	log         zerolog.Logger
}

// NewServer creates a gateway server with all routes registered.
func NewServer(cfg *config.Config, deps Deps) *Server {
	log := logger.Component("gateway")
	router := mux.NewRouter()
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigFrom(cfg.Gateway.RateLimit))

	// Logging -> Recovery -> Auth -> RateLimit -> routes
	handler := middleware.Logging(log)(
		middleware.Recovery(
			middleware.BearerAuth(cfg.Gateway.Token)(
				rateLimiter.RateLimit(router),
			),
		),
	)

	s := &Server{
		httpServer: &http.Server{
			Handler:     handler,
			ReadTimeout: 60 * time.Second,
			// 多任务和工具循环可能很慢，由请求 context 控制
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		router:      router,
		config:      cfg,
		deps:        deps,
		rateLimiter: rateLimiter,
		log:         log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", handlers.HealthHandler(s.config.Version, s.deps.Channels)).Methods(http.MethodGet)
	api.HandleFunc("/chat", handlers.ChatHandler(s.deps.Chat)).Methods(http.MethodPost)
	api.HandleFunc("/conversations", handlers.ConversationStatusHandler(s.deps.Chat)).Methods(http.MethodGet)
	api.HandleFunc("/conversations", handlers.ResetConversationHandler(s.deps.Chat)).Methods(http.MethodDelete)

	if s.deps.Channels != nil {
		api.HandleFunc("/channels", handlers.ChannelsHandler(s.deps.Channels)).Methods(http.MethodGet)
	}
	if s.deps.Resetter != nil {
		api.HandleFunc("/channels/reset", handlers.ResetChannelsHandler(s.deps.Resetter)).Methods(http.MethodPost)
	}
	if s.deps.Stats != nil {
		api.HandleFunc("/stats", handlers.StatsHandler(s.deps.Stats)).Methods(http.MethodGet)
	}
	if s.deps.Groups != nil {
		api.HandleFunc("/tools/groups", handlers.ToolGroupsHandler(s.deps.Groups)).Methods(http.MethodGet)
	}
	if s.deps.ScopeRecords != nil {
		api.HandleFunc("/scopes", handlers.ListScopesHandler(s.deps.ScopeRecords)).Methods(http.MethodGet)
	}
	if s.deps.Scopes != nil {
		api.HandleFunc("/scopes/effective", handlers.EffectiveScopeHandler(s.deps.Scopes)).Methods(http.MethodGet)
		api.HandleFunc("/scopes/{type}/{id}", handlers.PutScopeHandler(s.deps.Scopes)).Methods(http.MethodPut)
		api.HandleFunc("/scopes/{type}/{id}", handlers.DeleteScopeHandler(s.deps.Scopes)).Methods(http.MethodDelete)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	handlers.InitStartTime()

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.httpServer.Addr = addr

	s.log.Info().Str("addr", addr).Msg("Starting gateway server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down gateway server")

	s.rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
