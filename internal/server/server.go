package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/0xReLogic/restecho/internal/config"
	"github.com/0xReLogic/restecho/internal/echo"
	"github.com/0xReLogic/restecho/internal/logging"
	"github.com/0xReLogic/restecho/internal/metrics"
	"github.com/0xReLogic/restecho/internal/ratelimit"
	"github.com/0xReLogic/restecho/internal/tracing"
)

// Server is the echo HTTP listener
type Server struct {
	cfg config.ServerConfig
	// Optional per-client limiter; nil admits everything
	RateLimiter *ratelimit.RateLimiter
	// Optional listener TLS config
	TLSConfig *tls.Config

	httpServer *http.Server
}

// New builds a server from cfg. The rate limiter is installed when cfg enables it.
func New(cfg *config.Config) *Server {
	s := &Server{cfg: cfg.Server}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		s.RateLimiter = ratelimit.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Handler returns the router: POST /api/echo behind the instrumentation middleware
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodPost)
		echo.WriteError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		echo.WriteError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.Method(http.MethodPost, echo.Route, echo.NewHandler(s.cfg.MaxBodyBytes))
	return r
}

// instrument traces, throttles, logs and counts every request
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.Extract(r.Context(), r.Header)
		ctx, span := tracing.StartSpan(ctx, "echo_request", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
		)
		r = r.WithContext(ctx)

		client := clientIP(r.RemoteAddr)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.RateLimiter != nil && !s.RateLimiter.Allow(client) {
			metrics.RateLimitedTotal.Inc()
			logging.LogRateLimited(ctx, client)
			echo.WriteError(rec, http.StatusTooManyRequests, "rate limit exceeded")
		} else {
			next.ServeHTTP(rec, r)
		}
		latency := time.Since(start)

		span.SetAttributes(
			attribute.Int("http.status_code", rec.status),
			attribute.Int64("http.response.size", int64(rec.size)),
			attribute.Float64("http.duration_ms", float64(latency.Milliseconds())),
		)
		if rec.status >= 400 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		logging.LogHTTPRequest(ctx, r.Method, r.URL.Path, client, rec.status, latency.Milliseconds(), int64(rec.size))

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestLatency.WithLabelValues(r.Method).Observe(latency.Seconds())
	})
}

// clientIP strips the port from a RemoteAddr; RealIP may already have done so
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		TLSConfig:         s.TLSConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogServerStart("echo", ln.Addr().String(), s.TLSConfig != nil)
		if s.TLSConfig != nil {
			errCh <- s.httpServer.ServeTLS(ln, "", "") // certificates in TLSConfig
			return
		}
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logging.LogInfo("shutting_down", map[string]interface{}{"server": "echo"})
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
