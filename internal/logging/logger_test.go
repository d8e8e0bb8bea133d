package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromString(t *testing.T) {
	tests := []struct {
		name      string
		levelStr  string
		wantLevel Level
	}{
		{"debug", "debug", LevelDebug},
		{"info", "info", LevelInfo},
		{"warn", "warn", LevelWarn},
		{"error", "error", LevelError},
		{"DEBUG uppercase", "DEBUG", LevelDebug},
		{"unknown defaults to info", "invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewFromString(tt.levelStr, &bytes.Buffer{})
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		logLevel   Level
		logFunc    func(*Logger)
		wantOutput bool
	}{
		{"debug level logs debug", LevelDebug, func(l *Logger) { l.Debug("test") }, true},
		{"info level filters debug", LevelInfo, func(l *Logger) { l.Debug("test") }, false},
		{"info level logs info", LevelInfo, func(l *Logger) { l.Info("test") }, true},
		{"warn level filters info", LevelWarn, func(l *Logger) { l.Info("test") }, false},
		{"warn level logs warn", LevelWarn, func(l *Logger) { l.Warn("test") }, true},
		{"error level filters warn", LevelError, func(l *Logger) { l.Warn("test") }, false},
		{"error level logs error", LevelError, func(l *Logger) { l.Error("test") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger := New(tt.logLevel, output)

			tt.logFunc(logger)

			assert.Equal(t, tt.wantOutput, output.Len() > 0)
		})
	}
}

func TestLogger_Format(t *testing.T) {
	output := &bytes.Buffer{}
	logger := New(LevelDebug, output)

	logger.Warn("test message: %s", "hello")

	got := output.String()
	assert.Contains(t, got, "WARN")
	assert.Contains(t, got, "test message: hello")
}

func TestLogger_SetLevel(t *testing.T) {
	output := &bytes.Buffer{}
	logger := New(LevelError, output)

	logger.Info("hidden")
	require.Zero(t, output.Len())

	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())

	logger.Info("visible")
	assert.Contains(t, output.String(), "visible")
}

func TestLogger_With(t *testing.T) {
	output := &bytes.Buffer{}
	logger := New(LevelInfo, output)

	child := logger.With("chat", "abc123")
	child.Info("generated")

	got := output.String()
	assert.Contains(t, got, "generated")
	assert.Contains(t, got, "abc123")

	logger.SetLevel(LevelError)
	assert.Equal(t, LevelError, child.GetLevel(), "child shares parent level")
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("nothing happens")
	logger.Sync()
}
