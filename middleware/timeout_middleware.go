package middleware

import (
	"context"
	"fmt"
	"time"

	"devicehub/message"
)

// TimeoutMiddleware enforces a maximum duration for each app dispatch.
// Per spec, an App Instance handler MUST NOT block the dispatcher — this
// is the enforcement point: if the handler doesn't return within timeout,
// the dispatcher gets its error back and moves on to the next queued
// frame for that shard. The handler goroutine itself is not killed (Go
// has no such mechanism); a well-behaved handler must watch ctx.Done()
// and return promptly.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, d message.Dispatch) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1) // buffered: don't leak the goroutine if we give up first
			go func() {
				done <- next(ctx, d)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("middleware: dispatch to %s/%d timed out after %s",
					d.ClientID, d.Header.AppIdent, timeout)
			}
		}
	}
}
