package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKeyValueLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewKeyValueLogger(zap.New(core))

	l.Info("Dispatching event", "event_type", "workflow.transitioned", "handler_count", 2)
	l.Error("Handler error", "error", errors.New("boom"), 42, "dropped", "dangling")

	entries := logs.All()
	require.Len(t, entries, 2)

	info := entries[0].ContextMap()
	assert.Equal(t, "workflow.transitioned", info["event_type"])
	assert.EqualValues(t, 2, info["handler_count"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	errFields := entries[1].ContextMap()
	assert.Equal(t, "boom", errFields["error"])
	assert.Len(t, errFields, 1)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "loanflow.log")

	logger, err := NewLogger(LoggerConfig{Level: "debug", OutputPath: path, Format: "json"})
	require.NoError(t, err)
	logger.Info("hello", zap.String("k", "v"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "chatty", OutputPath: "stderr", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
