package client

import (
	"context"

	"pkt.systems/hsearch/internal/requestid"
)

// WithRequestID attaches a caller chosen identifier to ctx. It is sent as
// X-Request-Id on every attempt and logged as rid.
func WithRequestID(ctx context.Context, id string) context.Context {
	return requestid.With(ctx, id)
}

// RequestIDFromContext returns the identifier attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	return requestid.From(ctx)
}

// GenerateRequestID returns a fresh time ordered identifier.
func GenerateRequestID() string {
	return requestid.New()
}
