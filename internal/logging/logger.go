package logging

import (
	"context"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// ParseLevel maps a config string to a zap level, defaulting to info
func ParseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init initializes the structured logger
func Init(lvl, environment string) error {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	level.SetLevel(ParseLevel(lvl))
	config.Level = level

	if environment == "development" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	l, err := config.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the global logger. Tests use it to install an observer core.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLevel changes the level of the logger built by Init without rebuilding it
func SetLevel(lvl string) {
	level.SetLevel(ParseLevel(lvl))
}

// Level reports the current level of the logger built by Init
func Level() zapcore.Level {
	return level.Level()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// requestFields returns the request_id and trace_id found on ctx
func requestFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	return fields
}

// LogHTTPRequest logs a served request with structured fields
func LogHTTPRequest(ctx context.Context, method, path, remote string, status int, latencyMs, size int64) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.String("remote", remote),
		zap.Int("status", status),
		zap.Int64("latency_ms", latencyMs),
		zap.Int64("size_bytes", size),
	}
	fields = append(fields, requestFields(ctx)...)

	GetLogger().Info("http_request", fields...)
}

// LogDecodeError logs a payload that could not be echoed
func LogDecodeError(ctx context.Context, reason string, err error) {
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Error(err),
	}
	fields = append(fields, requestFields(ctx)...)

	GetLogger().Debug("decode_error", fields...)
}

// LogRateLimited logs rate limiting events
func LogRateLimited(ctx context.Context, client string) {
	fields := []zap.Field{
		zap.String("client", client),
		zap.String("event", "rate_limited"),
	}
	fields = append(fields, requestFields(ctx)...)

	GetLogger().Warn("rate_limited", fields...)
}

// LogServerStart logs listener startup
func LogServerStart(name, addr string, tls bool) {
	GetLogger().Info("server_start",
		zap.String("server", name),
		zap.String("listen_addr", addr),
		zap.Bool("tls", tls),
	)
}

func toFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			zapFields = append(zapFields, zap.String(k, val))
		case int:
			zapFields = append(zapFields, zap.Int(k, val))
		case bool:
			zapFields = append(zapFields, zap.Bool(k, val))
		case float64:
			zapFields = append(zapFields, zap.Float64(k, val))
		case error:
			zapFields = append(zapFields, zap.NamedError(k, val))
		default:
			zapFields = append(zapFields, zap.Any(k, v))
		}
	}
	return zapFields
}

// LogInfo logs general info messages with structured fields
func LogInfo(message string, fields map[string]interface{}) {
	GetLogger().Info(message, toFields(fields)...)
}

// LogError logs error messages with structured fields
func LogError(message string, fields map[string]interface{}) {
	GetLogger().Error(message, toFields(fields)...)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}
