// Package requestid carries caller supplied request identifiers through a
// context so every attempt of a dispatch can be correlated in logs.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MaxLength bounds accepted identifiers.
const MaxLength = 128

type ctxKey struct{}

// New returns a time ordered UUIDv7 string.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Normalize trims id and rejects empty, oversized or non-printable values.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return "", false
		}
	}
	return id, true
}

// With stores id on ctx. Invalid identifiers leave ctx untouched.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if norm, ok := Normalize(id); ok {
		return context.WithValue(ctx, ctxKey{}, norm)
	}
	return ctx
}

// From returns the identifier stored on ctx, if any.
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
