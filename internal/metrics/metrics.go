package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/felixge/fgprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xReLogic/restecho/internal/logging"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restecho_http_requests_total",
			Help: "Total number of HTTP requests handled by restecho",
		},
		[]string{"method", "status"},
	)
	HTTPRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restecho_http_request_latency_seconds",
			Help:    "Latency of HTTP requests handled by restecho",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restecho_http_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
	)
	PayloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restecho_payload_bytes",
			Help:    "Size of echoed JSON payloads",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
	)
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restecho_decode_errors_total",
			Help: "Request bodies that could not be echoed, by reason",
		},
		[]string{"reason"},
	)
)

// Handler serves Prometheus metrics and a wall-clock profile
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/fgprof", fgprof.Handler())
	return mux
}

// Serve runs Handler on ln until ctx is cancelled
func Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogServerStart("metrics", ln.Addr().String(), false)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// ListenAndServe binds addr and calls Serve
func ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln)
}
