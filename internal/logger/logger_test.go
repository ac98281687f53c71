package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerEmitsStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewTo(&buf, LevelDebug)

	l.Info("router decided", map[string]interface{}{"tier": "speed"})

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "router decided", rec["msg"])
}

func TestJSONLoggerRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewTo(&buf, LevelWarn)

	l.Debug("too quiet", nil)
	l.Info("still too quiet", nil)
	assert.Empty(t, buf.String())

	l.Warn("loud enough", nil)
	assert.NotEmpty(t, buf.String())
}

func TestWithComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	l := NewTo(&buf, LevelDebug).WithComponent("spine/router")

	l.Info("hello", nil)

	assert.True(t, strings.Contains(buf.String(), `"component":"spine/router"`))
}

func TestWithContextCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewTo(&buf, LevelDebug)
	ctx := WithRequestID(context.Background(), "req-123")

	l.InfoWithContext(ctx, "processing", nil)

	assert.True(t, strings.Contains(buf.String(), `"request_id":"req-123"`))
}

func TestNoOpLoggerNeverPanics(t *testing.T) {
	var l Logger = NoOp{}
	l.Info("x", nil)
	l.ErrorWithContext(context.Background(), "y", nil)
}
