package middleware

import (
	"context"

	"github.com/platinummonkey/appmesh/pkg/apperr"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
)

// LoginGuard throttles login attempts per user name and per client address.
type LoginGuard struct {
	limiter    Limiter
	failClosed bool
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
}

// LoginGuardOption configures a LoginGuard
type LoginGuardOption func(*LoginGuard)

// WithFailClosed rejects logins when the limiter cannot decide
func WithFailClosed(failClosed bool) LoginGuardOption {
	return func(g *LoginGuard) {
		g.failClosed = failClosed
	}
}

// WithGuardLogger sets the guard logger
func WithGuardLogger(logger logrus.FieldLogger) LoginGuardOption {
	return func(g *LoginGuard) {
		g.logger = logger
	}
}

// WithGuardMetrics counts rejected attempts
func WithGuardMetrics(m *observability.Metrics) LoginGuardOption {
	return func(g *LoginGuard) {
		g.metrics = m
	}
}

// NewLoginGuard creates a guard over limiter. A nil limiter allows everything.
func NewLoginGuard(limiter Limiter, opts ...LoginGuardOption) *LoginGuard {
	g := &LoginGuard{limiter: limiter}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = observability.OrDiscard(g.logger)
	return g
}

// Check counts one login attempt by user from remoteAddr. Over the limit it
// returns a RateLimited error.
func (g *LoginGuard) Check(ctx context.Context, user, remoteAddr string) error {
	if g == nil || g.limiter == nil {
		return nil
	}

	keys := []string{"login:ip:" + RemoteIP(remoteAddr)}
	if user != "" {
		keys = append(keys, "login:user:"+user)
	}

	for _, key := range keys {
		allowed, err := g.limiter.Allow(ctx, key)
		if err != nil {
			logger := g.logger.WithError(err).WithField("key", key)
			if g.failClosed {
				logger.Error("login rate limiter unavailable, rejecting attempt")
				return apperr.Wrap(apperr.KindRateLimited, err, "Login temporarily unavailable")
			}
			logger.Warn("login rate limiter unavailable, allowing attempt")
			continue
		}
		if !allowed {
			g.metrics.RecordLoginRateLimited()
			g.logger.WithField("user", user).WithField("key", key).Warn("login attempt rate limited")
			return apperr.New(apperr.KindRateLimited, "Too many login attempts for <%s>", user)
		}
	}
	return nil
}
