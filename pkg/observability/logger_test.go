package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", FormatJSON, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged as json", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
	})
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", FormatText, &buf)
	logger.Debug("plain")

	assert.Contains(t, buf.String(), "msg=plain")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", FormatJSON, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-123")
	ctx = contextkeys.WithUserName(ctx, "alice")

	FromContext(ctx).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "alice", entry["user"])
}

func TestFromContext_NoLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		FromContext(context.Background()).Info("dropped")
	})
	assert.NotNil(t, OrDiscard(nil))
}
