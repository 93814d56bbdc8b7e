package backend

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-submission correlation id.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// NewRequestID returns a fresh correlation id.
func NewRequestID() string { return uuid.NewString() }

// WithRequestID attaches a correlation id to ctx. Every API call made with
// the returned context sends it in the X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
