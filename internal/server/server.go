// Package server exposes the contact endpoint over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/inquiry-relay/internal/relay"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ContactPath is where the form posts.
const ContactPath = "/api/contact"

// RelayStatus reports the transport pool state. *relay.Pool implements it.
type RelayStatus interface {
	Name() string
	State() relay.State
}

// Config holds the configuration for the HTTP server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// CORSOrigins lists the website origins allowed to post the form.
	CORSOrigins []string

	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config

	// Contact handles the form endpoint.
	Contact http.Handler

	// Relay is reported by the health endpoint.
	Relay RelayStatus
}

// Server is an HTTP server for the contact form.
type Server struct {
	config Config

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	return &Server{config: cfg}
}

// Handler builds the router with its middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(recoverJSON)
	r.Use(corsHandler(s.config.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	r.Get("/healthz", s.health)
	// All methods reach the contact handler so it can answer 405 itself.
	r.Handle(ContactPath, s.config.Contact)
	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider,omitempty"`
	Relay    string `json:"relay,omitempty"`
}

// health always reports ok; an uninitialized relay is normal before the
// first submission.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.config.Relay != nil {
		resp.Provider = s.config.Relay.Name()
		resp.Relay = s.config.Relay.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe starts the HTTP server and blocks until the context is
// cancelled. On cancellation it stops accepting new connections and waits up
// to 30 seconds for in-flight requests to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"tls_enabled", s.config.TLSConfig != nil,
		"cors_origins", s.config.CORSOrigins,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
		return nil
	}
	slog.Info("all requests completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
