package observe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// ReportConfig configures Sentry error reporting.
type ReportConfig struct {
	// DSN is the Sentry project DSN. Reporting is disabled when empty.
	DSN string

	// Environment tags events (e.g. "production", "development").
	Environment string

	// Release tags events with the service version.
	Release string

	// TracesSampleRate is the fraction of transactions sent to Sentry.
	TracesSampleRate float64
}

// InitReporting initialises the global Sentry client. It returns a flush
// function to defer from main; with an empty DSN it is a no-op.
func InitReporting(cfg ReportConfig) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("observe: init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureError sends err to Sentry with extras attached to its scope. Without
// an initialised client it does nothing beyond the capture call's own no-op.
func CaptureError(ctx context.Context, err error, extras map[string]any) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		if cid := TraceID(ctx); cid != "" {
			scope.SetTag("trace_id", cid)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		hub.CaptureException(err)
	})
}

// Recover returns middleware that turns handler panics into a 500 response
// and a Sentry event.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.RecoverWithContext(r.Context(), rec)
				slog.ErrorContext(r.Context(), "handler panic", "panic", rec, "path", r.URL.Path)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
