// Package async runs background work that must never take the process down.
//
// Use SafeGo instead of a bare go statement for fire-and-forget work:
//
//	async.SafeGo(ctx, logger, time.Minute, "auth state purge", func(ctx context.Context) error {
//		_, err := store.PurgeExpired(ctx)
//		return err
//	})
//
// Panics are recovered and logged with their stack, returned errors are
// logged, and the task's context is cancelled after the timeout.
package async
