package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// HeaderName is the HTTP header carrying a trace id.
const HeaderName = "X-Trace-ID"

// GenerateTraceID returns a fresh random trace id.
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext returns the trace id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext stores traceID in ctx.
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// Ensure returns ctx unchanged if it already carries a trace id, otherwise a
// child context with a new one.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithContext(ctx, GenerateTraceID())
}
