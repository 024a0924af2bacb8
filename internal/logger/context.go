package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	gatewayKey   ctxKey = "gateway"
	eventIDKey   ctxKey = "event_id"
)

// ctxFields lists the keys FromCtx copies onto the logger, in output order.
var ctxFields = []ctxKey{requestIDKey, gatewayKey, eventIDKey}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithGateway tags every log line produced under ctx with the gateway name.
func WithGateway(ctx context.Context, gateway string) context.Context {
	return context.WithValue(ctx, gatewayKey, gateway)
}

// WithEventID tags log lines with the webhook event being processed, so the
// checkout and refund logs of one delivery can be joined.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

func EventIDFrom(ctx context.Context) string {
	return stringFrom(ctx, eventIDKey)
}

// FromCtx returns the global logger enriched with the request scoped fields
// present in ctx.
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	for _, key := range ctxFields {
		if v := stringFrom(ctx, key); v != "" {
			l = l.With(zap.String(string(key), v))
		}
	}
	return l
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
