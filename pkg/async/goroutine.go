package async

import (
	"context"
	"time"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and error logging. A
// zero timeout leaves the context without a deadline. The returned channel
// is closed once fn has returned.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
	return done
}
