package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log entries
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates an audit logger on top of logger
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger.WithField("component", "audit")}
}

// Log logs an audit event. Denied and failed events are logged at WARN.
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	entry := l.logger.WithFields(logrus.Fields{
		"audit_id":   event.ID,
		"event_type": event.EventType,
		"status":     event.Status,
	})
	if event.Username != "" {
		entry = entry.WithField("user", event.Username)
	}
	if event.Permission != "" {
		entry = entry.WithField("permission", event.Permission)
	}
	if event.RemoteAddress != "" {
		entry = entry.WithField("remote_address", event.RemoteAddress)
	}
	if event.RequestID != "" {
		entry = entry.WithField("request_id", event.RequestID)
	}
	if event.Path != "" {
		entry = entry.WithField("path", event.Path)
	}
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}

	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}
