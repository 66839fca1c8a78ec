// Package api exposes the assistant over HTTP: a synchronous chat endpoint,
// SSE streaming variants, and session management, behind a middleware stack
// of recovery, request ids, logging, CORS, and per-IP rate limiting.
package api

import (
	"errors"
	"net/http"

	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/session"
)

// Config carries the server's dependencies.
type Config struct {
	Agent    Agent
	Sessions *session.Store
	Logger   log.Logger

	// AllowedOrigin for CORS; empty means any origin.
	AllowedOrigin string
	// RateLimitPerSecond per client IP; zero disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server is the HTTP surface. Create with NewServer and mount via Handler.
type Server struct {
	mux      *http.ServeMux
	handler  http.Handler
	agent    Agent
	sessions *session.Store
	logger   log.Logger
	stop     func()
}

// NewServer wires all routes and the middleware stack.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	s := &Server{
		mux:      http.NewServeMux(),
		agent:    cfg.Agent,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
		stop:     func() {},
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/chat/stream", s.handleChatStreamPost)
	s.mux.HandleFunc("GET /api/chat/stream", s.handleChatStreamGet)
	s.mux.HandleFunc("POST /api/session/new", s.handleSessionNew)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	s.mux.HandleFunc("PUT /api/session/{id}/title", s.handleSessionTitle)
	s.mux.HandleFunc("DELETE /api/session/{id}", s.handleSessionDelete)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleHistory)

	// Middleware order: recovery outermost, then request id, logging, CORS,
	// rate limit. Recovery must wrap everything below it.
	var handler http.Handler = s.mux
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitPerSecond)
		}
		mw, stop := rateLimitMiddleware(cfg.RateLimitPerSecond, burst, cfg.Logger)
		handler = mw(handler)
		s.stop = stop
	}
	handler = corsMiddleware(cfg.AllowedOrigin)(handler)
	handler = loggingMiddleware(cfg.Logger)(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(cfg.Logger)(handler)
	s.handler = handler

	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases background resources (the rate limiter's cleanup loop).
func (s *Server) Close() {
	s.stop()
}
