package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/adrianliechti/wingman-gateway/pkg/bridge"
	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

type Server struct {
	bridge *bridge.Bridge
	tools  *tool.Registry

	auth   AuthConfig
	logger *slog.Logger

	handler http.Handler
}

type Options struct {
	Bridge *bridge.Bridge
	Tools  *tool.Registry

	Auth   AuthConfig
	Logger *slog.Logger

	// Version is reported to MCP clients.
	Version string
}

// AuthConfig controls the credential check on the API routes. Without a
// JWTSecret any bearer token or X-API-Key is accepted as an identity; with
// one, only bearer tokens that are valid HS256 JWTs are, and X-API-Key is
// rejected.
type AuthConfig struct {
	Required  bool
	JWTSecret string
}

func New(opts Options) *Server {
	logger := opts.Logger

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		bridge: opts.Bridge,
		tools:  opts.Tools,

		auth:   opts.Auth,
		logger: logger,
	}

	version := opts.Version

	if version == "" {
		version = "dev"
	}

	r := chi.NewRouter()
	r.Use(requestLogging(logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/chat/completions", s.handleChatCompletions)
		r.Post("/v1/chat/completions", s.handleChatCompletions)

		r.Get("/models", s.handleModels)
		r.Get("/v1/models", s.handleModels)

		r.Handle("/mcp", newMCPHandler(s.tools, version))
	})

	s.handler = cors.AllowAll().Handler(r)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done and then drains in-flight
// requests for at most shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.handler,

		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("server listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.logger.Info("server shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
