// Package web provides the HTTP API and run summary pages of the import
// service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	mw "github.com/JonMunkholm/csvimport/internal/web/middleware"
)

// Service is the part of *core.Importer the handlers use.
type Service interface {
	Run(ctx context.Context, req core.RunRequest) (*core.Result, error)
	Resume(ctx context.Context, principal *core.Principal, runID string, fromLastIndex, force bool) (*core.Result, error)
	RunWithParamsOf(ctx context.Context, principal *core.Principal, contents []byte, sourceRunID string) (*core.Result, error)
	RunDetails(ctx context.Context, principal *core.Principal, runID string) (*core.RunDetails, error)
	RunRecords(ctx context.Context, principal *core.Principal, runID string, kind core.OutcomeKind) ([]*core.Record, error)
	Revert(ctx context.Context, principal *core.Principal, runID string) (*core.RevertSummary, error)
	RemoveDuplicates(ctx context.Context, principal *core.Principal, runID string) (*core.RevertSummary, error)
	ClearDuplicateFlag(ctx context.Context, principal *core.Principal, runID, entityType, recordID string) error
	UploadFile(ctx context.Context, name string, contents []byte) (string, error)
}

// Server is the HTTP server of the import service.
type Server struct {
	service Service
	auth    mw.Authenticator
	limiter *core.ImportLimiter
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires routes and middleware.
func NewServer(service Service, auth mw.Authenticator, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		auth:    auth,
		limiter: core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.auth, s.cfg.Security.RequireAPIKey))

		// Pages
		r.Get("/imports/{runID}", s.handleRunPage)

		r.Route("/api", func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Post("/attachments", s.handleUploadAttachment)

			r.Post("/imports", s.handleRunImport)
			r.Get("/imports/{runID}", s.handleRunDetails)
			r.Delete("/imports/{runID}", s.handleRevert)
			r.Post("/imports/{runID}/resume", s.handleResume)
			r.Post("/imports/{runID}/rerun", s.handleRerun)
			r.Get("/imports/{runID}/records/{kind}", s.handleRunRecords)
			r.Post("/imports/{runID}/remove-duplicates", s.handleRemoveDuplicates)
			r.Post("/imports/{runID}/unmark-duplicate", s.handleUnmarkDuplicate)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for synchronous imports to
// finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)

	if status := s.limiter.Status(); status.Active > 0 {
		slog.Info("waiting for imports to complete", "active", status.Active)
		if werr := s.limiter.WaitForDrain(ctx); werr != nil {
			slog.Warn("imports did not complete in time", "error", werr)
		}
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleHealth reports liveness and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.limiter.Status(),
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
