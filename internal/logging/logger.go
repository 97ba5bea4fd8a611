// Package logging configures log/slog for the server and importctl and
// carries request-scoped fields into component loggers.
//
// Request IDs come from chi's RequestID middleware. Any logger derived with
// FromContext or WithFields while serving a request carries request_id, so
// the access log line and the import engine's run log can be joined.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup installs the default logger writing to stdout.
//
// Level is one of debug, info, warn or error; anything else means info.
// Format "json" selects the JSON handler, anything else the text handler.
func Setup(level, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level, format)))
}

// NewHandler returns the handler Setup installs, writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger with the request ID of ctx, if any.
//
//	logging.FromContext(r.Context()).Warn("request error", "status", status)
func FromContext(ctx context.Context) *slog.Logger {
	return WithFields(ctx, nil)
}

// WithFields derives a logger from base that carries the request ID of ctx
// and args. A nil base means slog.Default(). The import engine uses it for
// everything it logs about one run:
//
//	log := logging.WithFields(ctx, im.logger, "run_id", run.ID, "entity_type", run.EntityType)
//	log.Info("import started")
func WithFields(ctx context.Context, base *slog.Logger, args ...any) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		base = base.With("request_id", reqID)
	}
	if len(args) > 0 {
		base = base.With(args...)
	}
	return base
}
