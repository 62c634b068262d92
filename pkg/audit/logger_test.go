package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	events []*Event
	err    error
	closed bool
}

func (r *recordingLogger) Log(ctx context.Context, event *Event) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return r.err
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithUserName(ctx, "mesh")

	event := NewEvent(ctx, EventTypeAuthzAccessDenied, EventStatusDenied)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "mesh", event.Username)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotEqual(t, event.ID, NewEvent(ctx, EventTypeAuthzAccessDenied, EventStatusDenied).ID)
}

func TestLogrusLogger(t *testing.T) {
	base, hook := logtest.NewNullLogger()
	logger := NewLogrusLogger(base)

	ok := NewEvent(context.Background(), EventTypeAuthzPermissionCheck, EventStatusSuccess)
	ok.Permission = "app-view"
	require.NoError(t, logger.Log(context.Background(), ok))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "app-view", hook.LastEntry().Data["permission"])

	denied := NewEvent(context.Background(), EventTypeAuthzAccessDenied, EventStatusDenied)
	denied.ErrorMessage = "No permission <app-view> for user <mesh>"
	require.NoError(t, logger.Log(context.Background(), denied))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "audit", hook.LastEntry().Data["component"])
}

func TestMultiLogger(t *testing.T) {
	first := &recordingLogger{err: errors.New("disk full")}
	second := &recordingLogger{}
	multi := NewMultiLogger(first, second)

	err := multi.Log(context.Background(), &Event{Message: "x"})
	assert.EqualError(t, err, "disk full")
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)

	assert.Error(t, multi.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}
