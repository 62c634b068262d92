package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSafeGo_Success(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	var executed atomic.Bool

	wait(t, SafeGo(context.Background(), logger, time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}))

	assert.True(t, executed.Load())
	assert.Empty(t, hook.AllEntries())
}

func TestSafeGo_WithError(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	wait(t, SafeGo(context.Background(), logger, 0, "reload", func(ctx context.Context) error {
		return errors.New("bad yaml")
	}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "reload", entry.Data["task"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "bad yaml")
}

func TestSafeGo_Timeout(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	var completed atomic.Bool

	wait(t, SafeGo(context.Background(), logger, 50*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	assert.False(t, completed.Load())
	require.NotNil(t, hook.LastEntry())
	assert.ErrorIs(t, hook.LastEntry().Data[logrus.ErrorKey].(error), context.DeadlineExceeded)
}

func TestSafeGo_CancelIsQuiet(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	done := SafeGo(ctx, logger, 0, "watch", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	wait(t, done)

	assert.Empty(t, hook.AllEntries())
}

func TestSafeGo_Panic(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	wait(t, SafeGoNoError(context.Background(), logger, 0, "panicky", func(ctx context.Context) {
		panic("boom")
	}))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "panic recovered", hook.LastEntry().Message)
}
