// Package web serves the tagweave HTTP API.
//
// All endpoints speak JSON. Generated pictures and narrator messages are
// also pushed to every connected client over Server-Sent Events on
// GET /events. Failed requests answer {"error": "..."} and send an error
// event to the requesting session.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/pipeline"
	"github.com/hurricanerix/tagweave/internal/settings"
)

const (
	// DefaultAddr is the default address the server listens on.
	DefaultAddr = "localhost:8080"

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 15 * time.Second

	// WriteTimeout bounds a response. It covers a full ComfyUI generation.
	WriteTimeout = 10 * time.Minute

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout = 60 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 30 * time.Second

	// MaxRequestBodySize is the maximum size of request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length of a chat message (10KB).
	MaxMessageLength = 10 * 1024
)

// SettingsStore loads and saves user settings. *settings.Store implements it.
type SettingsStore interface {
	Load(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, st settings.Settings) error
	SaveCharacter(ctx context.Context, id settings.CharacterID, o settings.Override) error
	DeleteCharacter(ctx context.Context, id settings.CharacterID) error
}

// Options configure a Server. Zero values select defaults.
type Options struct {
	Addr string
	// RateLimit is generation requests per second per session; <= 0 disables it.
	RateLimit float64
	RateBurst int
	// SecureCookie sets the Secure flag on the session cookie.
	SecureCookie bool
	// Broker is shared with the pipeline so generation events reach clients.
	Broker *Broker
	Logger *logging.Logger
}

// Server provides the HTTP API.
type Server struct {
	addr        string
	server      *http.Server
	handler     http.Handler
	broker      *Broker
	pipeline    *pipeline.Pipeline
	settings    SettingsStore
	rateLimiter *rateLimiter
	logger      *logging.Logger
}

// NewServer creates a Server for p backed by store.
func NewServer(p *pipeline.Pipeline, store SettingsStore, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Broker == nil {
		opts.Broker = NewBroker(opts.Logger)
	}

	s := &Server{
		addr:        opts.Addr,
		broker:      opts.Broker,
		pipeline:    p,
		settings:    store,
		rateLimiter: newRateLimiter(opts.RateLimit, opts.RateBurst),
		logger:      opts.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = SessionMiddleware(mux, opts.SecureCookie)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Broker returns the SSE broker.
func (s *Server) Broker() *Broker {
	return s.broker
}

// Handler returns the root handler, session middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /events", s.broker.ServeHTTP)

	// Generation
	mux.HandleFunc("POST /api/generate", s.rateLimited(s.handleGenerate))
	mux.HandleFunc("POST /api/scene", s.rateLimited(s.handleScene))
	mux.HandleFunc("POST /api/impersonate", s.rateLimited(s.handleImpersonate))
	mux.HandleFunc("POST /api/sanitize", s.handleSanitize)

	// ComfyUI and text backend metadata
	mux.HandleFunc("POST /api/comfy/ping", s.handleComfyPing)
	mux.HandleFunc("GET /api/workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/presets", s.handlePresets)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("PUT /api/characters/{id}", s.handlePutCharacter)
	mux.HandleFunc("DELETE /api/characters/{id}", s.handleDeleteCharacter)

	// Chats
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleGetMessages)
	mux.HandleFunc("POST /api/chats/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("POST /api/chats/{id}/activate", s.handleActivate)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)

	// Images
	mux.HandleFunc("GET /images/{id}", s.handleImage)
	mux.HandleFunc("GET /saved/{character}/{file}", s.handleSavedImage)
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.rateLimiter.startCleanup(ctx)
	defer s.rateLimiter.wait()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web server on http://%s", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down web server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		// Streams block Shutdown until closed.
		if err := s.broker.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("broker shutdown failed: %w", err)
		}
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		s.logger.Info("Web server stopped")
		return nil

	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// rateLimited rejects requests from sessions over their generation rate.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := GetSessionID(r.Context())
		if !s.rateLimiter.allow(sessionID) {
			s.logger.Warn("Rate limit exceeded for session %s (%s)", sessionID, r.URL.Path)
			s.sendErrorEvent(sessionID, "Too many requests. Please wait a moment.")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// loadSettings returns the current settings or writes an error response.
func (s *Server) loadSettings(w http.ResponseWriter, r *http.Request) (settings.Settings, bool) {
	st, err := s.settings.Load(r.Context())
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to load settings: %w", err))
		return settings.Settings{}, false
	}
	return st, true
}

// decode reads a JSON body into v, bounded by MaxRequestBodySize.
// An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail logs err, notifies the session and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	sessionID := GetSessionID(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s failed for session %s: %v", r.Method, r.URL.Path, sessionID, err)
	} else {
		s.logger.Warn("%s %s rejected for session %s: %v", r.Method, r.URL.Path, sessionID, err)
	}
	s.sendErrorEvent(sessionID, err.Error())
	writeError(w, status, err.Error())
}

// sendErrorEvent sends an error event to the session, if connected.
func (s *Server) sendErrorEvent(sessionID string, message string) {
	_ = s.broker.SendEvent(sessionID, EventError, map[string]string{
		"message": message,
	})
}
