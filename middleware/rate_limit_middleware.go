package middleware

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"devicehub/message"
)

// RateLimitMiddleware enforces a per-client_id token bucket, rather than
// one bucket shared across every device: a noisy device shouldn't be
// able to starve dispatch for everyone else. Limiters are created lazily
// per client_id and kept for the process lifetime, the same lazy-create
// pattern registry.ClientTable.GetOrCreate uses for Client Objects.
//
// Parameters:
//   - r: token refill rate (tokens per second)
//   - burst: maximum bucket size (allows this many dispatches in a burst)
func RateLimitMiddleware(r float64, burst int) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(clientID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[clientID]
		if !ok {
			l = rate.NewLimiter(rate.Limit(r), burst)
			limiters[clientID] = l
		}
		return l
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, d message.Dispatch) error {
			if !limiterFor(d.ClientID).Allow() {
				return fmt.Errorf("middleware: rate limit exceeded for client %s", d.ClientID)
			}
			return next(ctx, d)
		}
	}
}
