package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{"debug lowercase", "debug", slog.LevelDebug},
		{"debug uppercase", "DEBUG", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"warning", "WARNING", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"empty string", "", slog.LevelInfo},
		{"invalid", "invalid", slog.LevelInfo},
		{"with whitespace", " DEBUG ", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	assert.Equal(t, slog.LevelWarn, GetLogLevel())

	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, slog.LevelInfo, GetLogLevel())
}

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")

	assert.NotNil(t, NewLogger(true))
	assert.NotNil(t, NewLogger(false))
}

func TestNewTextLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")

	var buf bytes.Buffer
	logger := NewTextLogger(&buf)

	logger.Debug("debug message")
	logger.Info("info message", "food_id", "5000")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "food_id=5000")
}

func TestNewTestLogger(t *testing.T) {
	t.Run("with explicit level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewTestLogger(&buf, "ERROR")

		logger.Warn("warn message")
		logger.Error("error message")

		assert.NotContains(t, buf.String(), "warn message")
		assert.Contains(t, buf.String(), "error message")
	})

	t.Run("with empty level uses env", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "DEBUG")

		var buf bytes.Buffer
		logger := NewTestLogger(&buf, "")
		logger.Debug("debug message")

		assert.Contains(t, buf.String(), "debug message")
	})
}
