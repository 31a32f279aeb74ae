// Package server wires the HTTP API over the job-instance engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/matiasb/jaime/internal/config"
	apperrors "github.com/matiasb/jaime/internal/errors"
	"github.com/matiasb/jaime/internal/server/handlers"
	"github.com/matiasb/jaime/internal/server/middleware"
)

// Server is the HTTP front of the engine.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	logger  *zap.Logger
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, h *handlers.Handlers, maxUploadBytes int64, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.HTTPError{
			Code: apperrors.CodeNotFound, Message: "resource not found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, apperrors.HTTPError{
			Code: apperrors.CodeMethodNotAllowed, Message: "method not allowed",
		})
	})

	r.Get("/health", h.Health)
	r.Get("/version", h.GetVersion)

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Route("/{slug}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Route("/instances", func(r chi.Router) {
				r.Get("/", h.ListInstances)
				r.With(middleware.MaxBytes(maxUploadBytes)).Post("/", h.CreateInstance)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetInstance)
					r.Post("/run", h.RunInstance)
					r.Delete("/", h.DeleteInstance)
					r.Get("/files/{name}", h.GetArtifact)
				})
			})
		})
	})

	return &Server{cfg: cfg, handler: r, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
