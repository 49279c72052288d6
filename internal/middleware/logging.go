package middleware

import (
	"context"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor returns a Connect interceptor that logs every RPC call
// with its procedure, session ID and duration. Client mistakes are logged
// as warnings with their code; internal failures as errors.
// Place it inside RequireSession so the session ID is known.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				"procedure", req.Spec().Procedure,
				"session_id", GetSessionID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch code := connect.CodeOf(err); {
			case err == nil:
				logger.Info("RPC ok", attrs...)
			case code == connect.CodeInternal || code == connect.CodeUnknown:
				logger.Error("RPC failed", append(attrs, "error", err)...)
			default:
				logger.Warn("RPC rejected", append(attrs, "code", code.String(), "error", err)...)
			}
			return resp, err
		}
	}
}
