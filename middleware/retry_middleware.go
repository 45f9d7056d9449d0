package middleware

import (
	"errors"
	"time"

	"devicehub/clientobj"
)

// RetryWrite wraps an outbound clientobj.Object.Write call with
// exponential backoff, retrying only on ErrWriteTimeout — the signal
// that the transport went unhealthy mid-send, as opposed to a permanent
// condition like ErrRemoved which retrying can't fix. This replaces the
// original RPC-retry middleware, which retried whole calls; here the
// retry loop sits around a single outbound Write since there is no
// request/response round trip to retry instead.
func RetryWrite(maxRetries int, baseDelay time.Duration, write func() error) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		err = write()
		if err == nil {
			return nil
		}
		if !errors.Is(err, clientobj.ErrWriteTimeout) {
			return err
		}
		if i < maxRetries {
			time.Sleep(baseDelay * time.Duration(1<<uint(i)))
		}
	}
	return err
}
