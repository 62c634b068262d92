package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/sirupsen/logrus"
)

// Log output formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// NewLogger creates the process logger. Unknown levels fall back to info,
// unknown formats to JSON.
func NewLogger(level, format string, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(ParseLevel(level))

	if strings.ToLower(format) == FormatText {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// ParseLevel parses a log level string
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns logger, or a discarding logger when logger is nil.
func OrDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return Discard()
	}
	return logger
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// FromContext returns the context logger with request ID and user name
// fields attached. A discarding logger is used when none was set.
func FromContext(ctx context.Context) logrus.FieldLogger {
	logger, ok := ctx.Value(contextkeys.LoggerKey).(logrus.FieldLogger)
	if !ok || logger == nil {
		logger = Discard()
	}

	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	if user := contextkeys.GetUserName(ctx); user != "" {
		logger = logger.WithField("user", user)
	}

	return logger
}
