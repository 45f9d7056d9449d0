// Package middleware implements the onion-model chain wrapping app
// dispatch. Middleware adds cross-cutting concerns (logging, timeout,
// rate limiting, retry) around the App Multiplexer's Dispatch call
// without the dispatcher itself knowing about any of them.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can do pre-processing, call next to pass control
// along, do post-processing, or short-circuit by returning an error
// without calling next (e.g. rate limiting).
package middleware

import (
	"context"

	"devicehub/message"
)

// HandlerFunc dispatches one inbound frame. There is no reply value
// here because a Dispatch doesn't return one — any reply an app wants
// to send goes back through its own Reply callback, independent of
// middleware.
type HandlerFunc func(ctx context.Context, d message.Dispatch) error

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built
// from right to left so the first middleware in the list is the
// outermost layer.
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	handler := chain(dispatchHandler)
//	// Execution: Logging → Timeout → RateLimit → dispatchHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
