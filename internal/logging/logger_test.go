package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel, format string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := &Logger{
		level:  level,
		format: format,
		output: buf,
		fields: make(map[string]interface{}),
	}

	return logger, buf
}

func TestLogLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(WarnLevel, "text")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel, "json")

	logger.WithField("provider", "ollama").Info("probe failed")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "probe failed", entry.Message)
	assert.Equal(t, "ollama", entry.Fields["provider"])
}

func TestTextFormatFields(t *testing.T) {
	logger, buf := newBufferLogger(DebugLevel, "text")

	logger.WithFields(map[string]interface{}{"table": "customers"}).Debugf("sampled %d rows", 5)

	output := buf.String()
	assert.Contains(t, output, "DEBUG")
	assert.Contains(t, output, "sampled 5 rows")
	assert.Contains(t, output, "table=customers")
}

func TestWithErrorNil(t *testing.T) {
	logger, _ := newBufferLogger(InfoLevel, "text")
	assert.Same(t, logger, logger.WithError(nil))
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel, "text")

	child := logger.WithField("k", "v")
	logger.Info("parent message")

	assert.NotContains(t, buf.String(), "k=v")

	buf.Reset()
	child.Info("child message")
	assert.Contains(t, buf.String(), "k=v")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"unknown", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
