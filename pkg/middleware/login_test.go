package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/platinummonkey/appmesh/pkg/apperr"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis down")
}

func TestLoginGuard_PerUser(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	guard := NewLoginGuard(limiter, WithGuardMetrics(metrics))
	ctx := context.Background()

	require.NoError(t, guard.Check(ctx, "alice", "10.0.0.1:1"))
	require.NoError(t, guard.Check(ctx, "alice", "10.0.0.2:1"))

	err := guard.Check(ctx, "alice", "10.0.0.3:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	assert.Equal(t, "Too many login attempts for <alice>", err.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoginRateLimited))

	assert.NoError(t, guard.Check(ctx, "bob", "10.0.0.4:1"))
}

func TestLoginGuard_PerAddress(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	guard := NewLoginGuard(limiter)
	ctx := context.Background()

	require.NoError(t, guard.Check(ctx, "u1", "10.0.0.9:1000"))
	require.NoError(t, guard.Check(ctx, "u2", "10.0.0.9:1001"))

	err := guard.Check(ctx, "u3", "10.0.0.9:1002")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestLoginGuard_LimiterFailure(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		guard := NewLoginGuard(failingLimiter{}, WithGuardLogger(logger))

		assert.NoError(t, guard.Check(context.Background(), "alice", "10.0.0.1:1"))
		require.NotNil(t, hook.LastEntry())
		assert.Contains(t, hook.LastEntry().Message, "allowing attempt")
	})

	t.Run("fail closed", func(t *testing.T) {
		guard := NewLoginGuard(failingLimiter{}, WithFailClosed(true))

		err := guard.Check(context.Background(), "alice", "10.0.0.1:1")
		assert.ErrorIs(t, err, apperr.ErrRateLimited)
		assert.Equal(t, "Login temporarily unavailable", err.Error())
	})
}

func TestLoginGuard_Disabled(t *testing.T) {
	var guard *LoginGuard
	assert.NoError(t, guard.Check(context.Background(), "alice", "x"))
	assert.NoError(t, NewLoginGuard(nil).Check(context.Background(), "alice", "x"))
}
