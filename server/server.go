// Package server exposes the bot's HTTP surface: the local OAuth callback
// listener, health and readiness probes, Prometheus metrics and a read-only
// queue view. It injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stuck-overflow/queuebot/telemetry"
)

// Options configures the middleware around the routes.
type Options struct {
	AdminUsername string
	AdminPassword string
	AdminToken    string
	// AuthRateLimit is the per-IP request budget per minute on /auth/ routes.
	AuthRateLimit int
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, h *Handlers, opts Options) http.Handler {
	authCfg := newAuthConfig(opts.AdminUsername, opts.AdminPassword, opts.AdminToken)
	limiter := newIPRateLimiter(ctx, opts.AuthRateLimit)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// The callback stays open: Twitch redirects the operator's browser here.
	mux.Handle("/auth/twitch/start", rateLimitMiddleware(adminAuth(http.HandlerFunc(h.HandleTwitchOAuthStart), authCfg), limiter))
	mux.Handle("/auth/twitch/callback", rateLimitMiddleware(http.HandlerFunc(h.HandleTwitchOAuthCallback), limiter))

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/queue", h.HandleQueue)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(telemetry.HTTPStatusAttr(rec.statusCode))
		if rec.statusCode >= 500 {
			telemetry.RecordError(span, fmt.Errorf("HTTP %d", rec.statusCode))
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start serves handler on addr and shuts down gracefully on context
// cancellation. ready, if non-nil, receives the bound address once listening.
func Start(ctx context.Context, addr string, handler http.Handler, ready chan<- string) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}
	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

// CallbackAddr derives the listen address from a redirect URI such as
// http://localhost:3000/auth/twitch/callback.
func CallbackAddr(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Port() == "" {
		return ""
	}
	return ":" + u.Port()
}
