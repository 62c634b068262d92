package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/appmesh/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent creates an event with a fresh ID, the current time and the
// request ID and user carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Username:  contextkeys.GetUserName(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// NoOp returns a logger that discards events
func NoOp() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (noOpLogger) Close() error {
	return nil
}
