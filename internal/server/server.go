// Package server exposes the anonymization engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/anonymizer"
	"github.com/veil-sh/veil/internal/audit"
	"github.com/veil-sh/veil/internal/config"
	"github.com/veil-sh/veil/internal/logger"
	"github.com/veil-sh/veil/internal/session"
	"github.com/veil-sh/veil/internal/vault"
	"github.com/veil-sh/veil/internal/websocket"
)

// Server wires the HTTP API over the anonymization pipeline.
type Server struct {
	config       *config.Config
	logger       *logger.Logger
	anonymizer   *anonymizer.Anonymizer
	deanonymizer *anonymizer.Deanonymizer
	assigner     *session.Assigner
	store        vault.Store
	audit        *audit.Logger
	router       *mux.Router
	server       *http.Server
	wsHub        *websocket.Hub
	limiter      *clientLimiter
}

// New creates the server around an already-wired pipeline.
func New(cfg *config.Config, anon *anonymizer.Anonymizer, deanon *anonymizer.Deanonymizer, assigner *session.Assigner, store vault.Store, auditLog *audit.Logger, wsHub *websocket.Hub, log *logger.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:       cfg,
		logger:       log.WithComponent("server"),
		anonymizer:   anon,
		deanonymizer: deanon,
		assigner:     assigner,
		store:        store,
		audit:        auditLog,
		router:       router,
		wsHub:        wsHub,
	}
	if cfg.Server.RateLimit.Enabled {
		s.limiter = newClientLimiter(cfg.Server.RateLimit)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/deanonymize", s.handleDeanonymize).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	if s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods("GET")
	}
}

// Start starts the HTTP server and the audit feed hub.
func (s *Server) Start() error {
	s.logger.Info("Starting veil server",
		zap.Int("port", s.config.Server.Port),
		zap.String("vault_backend", s.config.Vault.Backend),
		zap.String("detection_mode", string(s.config.Detection.Hybrid.Mode)),
	)

	if s.config.WebSocket.Enabled {
		go s.wsHub.Run()
	}
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping veil server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
