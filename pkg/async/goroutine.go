package async

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
)

// SafeGo runs fn in a goroutine and returns a channel closed when it ends.
// A positive timeout bounds fn's context. Panics and errors are logged with
// the task name; context cancellation is not treated as an error.
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	logger = observability.OrDiscard(logger).WithField("task", taskName)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ctx := parentCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
			defer cancel()
		}

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("background task failed")
		}
	}()

	return done
}

// SafeGoNoError is SafeGo for functions that don't return an error
func SafeGoNoError(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
