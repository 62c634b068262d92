package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin             EventType = "auth.login"
	EventTypeAuthLoginFailed       EventType = "auth.login_failed"
	EventTypeAuthTokenCreate       EventType = "auth.token_create"
	EventTypeAuthTokenValidate     EventType = "auth.token_validate"
	EventTypeAuthTokenValidateFail EventType = "auth.token_validate_fail"

	// Authorization events
	EventTypeAuthzPermissionCheck EventType = "authz.permission_check"
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	Username   string `json:"username,omitempty"`
	Permission string `json:"permission,omitempty"`

	// Request context
	RemoteAddress string `json:"remote_address,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	Method        string `json:"method,omitempty"`
	Path          string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// FromJSON parses an audit event from one JSON line
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
