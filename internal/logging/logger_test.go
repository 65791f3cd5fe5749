package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, lvl zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(lvl)
	prev := GetLogger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })
	return logs
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zap.InfoLevel, ParseLevel(""))
}

func TestInitAndSetLevel(t *testing.T) {
	prev := GetLogger()
	t.Cleanup(func() { SetLogger(prev) })

	require.NoError(t, Init("warn", "development"))
	assert.Equal(t, zap.WarnLevel, Level())
	assert.False(t, GetLogger().Core().Enabled(zap.InfoLevel))

	SetLevel("debug")
	assert.Equal(t, zap.DebugLevel, Level())
	assert.True(t, GetLogger().Core().Enabled(zap.DebugLevel))
}

func TestLogHTTPRequest_AttachesRequestID(t *testing.T) {
	logs := observe(t, zap.DebugLevel)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	LogHTTPRequest(ctx, "POST", "/api/echo", "127.0.0.1", 200, 3, 17)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, int64(200), fields["status"])
	assert.Equal(t, int64(17), fields["size_bytes"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestLogError_MapFields(t *testing.T) {
	logs := observe(t, zap.DebugLevel)

	LogError("listen_failed", map[string]interface{}{
		"addr":  ":5000",
		"tries": 2,
		"error": errors.New("address in use"),
	})

	entries := logs.FilterMessage("listen_failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, ":5000", fields["addr"])
	assert.Equal(t, int64(2), fields["tries"])
	assert.Equal(t, "address in use", fields["error"])
}

func TestLogDecodeError_IsDebug(t *testing.T) {
	logs := observe(t, zap.InfoLevel)
	LogDecodeError(context.Background(), "syntax", errors.New("bad"))
	assert.Zero(t, logs.Len())
}
