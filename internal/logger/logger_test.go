package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{
		Level:       slog.LevelDebug,
		Format:      TEXT,
		Output:      &buf,
		DefaultTags: map[string]interface{}{"test": true},
	})

	logger.Debug("This is a debug message")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "This is a debug message")
	assert.Contains(t, buf.String(), "test=true")

	buf.Reset()
	WithComponent(logger, "gateway").Warn("This is a warning")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "component=gateway")

	buf.Reset()
	logger.Error("This is an error", "customField", "value")
	assert.Contains(t, buf.String(), "customField=value")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: slog.LevelInfo, Format: JSON, Output: &buf})

	logger.Info("JSON message", "context_id", "abc")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "JSON message", record["msg"])
	assert.Equal(t, "abc", record["context_id"])
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := FromSettings("info", "text", &buf)

	logger.Debug("Should not appear")
	assert.Zero(t, buf.Len(), "debug record written at info level: %s", buf.String())

	logger.Info("Should appear")
	assert.NotZero(t, buf.Len())

	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}

	assert.Equal(t, JSON, ParseFormat("JSON"))
	assert.Equal(t, TEXT, ParseFormat("yaml"))
}

func ExampleWithComponent() {
	var buf bytes.Buffer
	logger := New(&Config{Level: slog.LevelDebug, Format: TEXT, Output: &buf})

	WithComponent(logger, "subscription").Info("subscriber added")

	fmt.Println("Contains component:", strings.Contains(buf.String(), "component=subscription"))
	// Output: Contains component: true
}
