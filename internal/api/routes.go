package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cleanpipe/core/internal/api/handlers"
	apiMiddleware "github.com/cleanpipe/core/internal/api/middleware"
	"github.com/cleanpipe/core/internal/api/websocket"
	"github.com/cleanpipe/core/internal/config"
	"github.com/cleanpipe/core/internal/events"
	"github.com/cleanpipe/core/internal/queue"
)

// Server is the admin-server's HTTP surface: task status/progress
// polling, queue/DLQ/consumer administration, a live WebSocket event feed,
// and a Prometheus scrape endpoint. It never exposes task creation (§1):
// that belongs to queue.Producer, reached by the caller directly.
type Server struct {
	router       *chi.Mux
	manager      *queue.Manager
	dlq          *queue.DLQ
	recovery     *queue.RecoveryManager
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	publisher    *events.RedisPubSub
}

// NewServer creates the admin-server's HTTP surface.
func NewServer(cfg *config.Config, manager *queue.Manager, dlq *queue.DLQ, recovery *queue.RecoveryManager, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		manager:      manager,
		dlq:          dlq,
		recovery:     recovery,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(manager),
		adminHandler: handlers.NewAdminHandler(manager, dlq, recovery),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
		publisher:    publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chiMiddleware.RequestID)
	s.router.Use(chiMiddleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(chiMiddleware.Recoverer)
	s.router.Use(chiMiddleware.Heartbeat("/health"))
}

func (s *Server) authConfig() *apiMiddleware.AuthConfig {
	keys := make(map[string]bool, len(s.config.Auth.APIKeys))
	for _, k := range s.config.Auth.APIKeys {
		keys[k] = true
	}
	return &apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   keys,
	}
}

func (s *Server) setupRoutes() {
	authCfg := s.authConfig()

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		if s.config.RateLimit.Enabled {
			r.Use(apiMiddleware.RateLimit(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst))
		}
		r.Use(apiMiddleware.Auth(authCfg))

		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/status", s.taskHandler.GetStatus)
			r.Get("/progress", s.taskHandler.GetProgress)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		if s.config.RateLimit.Enabled {
			r.Use(apiMiddleware.RateLimit(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst))
		}
		r.Use(apiMiddleware.Auth(authCfg))

		r.Get("/health", s.adminHandler.HealthCheck)

		r.Get("/queue/stats", s.adminHandler.QueueStats)
		r.Delete("/queue", s.adminHandler.PurgeQueue)

		r.Get("/consumers", s.adminHandler.ListConsumers)
		r.Post("/consumers/{id}/pause", s.adminHandler.PauseConsumer)
		r.Post("/consumers/{id}/resume", s.adminHandler.ResumeConsumer)

		r.Get("/dlq", s.adminHandler.ListDLQ)
		r.Post("/dlq/{id}/retry", s.adminHandler.RetryDLQTask)
		r.Delete("/dlq/{id}", s.adminHandler.RemoveDLQTask)
		r.Delete("/dlq", s.adminHandler.ClearDLQ)

		r.Post("/recovery/run", s.adminHandler.TriggerRecovery)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publisher returns the event publisher.
func (s *Server) Publisher() *events.RedisPubSub {
	return s.publisher
}
