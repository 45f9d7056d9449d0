package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"devicehub/message"
)

// LoggingMiddleware records the client, app address, and duration of
// every dispatch, and any error the handler returned.
func LoggingMiddleware(log *zap.Logger) Middleware {
	log = log.Named("dispatch")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, d message.Dispatch) error {
			start := time.Now()
			err := next(ctx, d)
			fields := []zap.Field{
				zap.String("client_id", d.ClientID),
				zap.Uint8("app_ident", d.Header.AppIdent),
				zap.Uint8("app_id", d.Header.AppID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("dispatch failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("dispatched", fields...)
			}
			return err
		}
	}
}
