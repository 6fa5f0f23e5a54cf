// Package requestid carries the per-request correlation id through contexts.
package requestid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const Header = "X-Request-Id"

const maxLen = 128

type ctxKey struct{}

func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func Get(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}

// Resolve keeps a caller-supplied id when it is usable and mints one otherwise.
func Resolve(incoming string) string {
	id := strings.TrimSpace(incoming)
	if id == "" || len(id) > maxLen || strings.ContainsAny(id, "\r\n") {
		return New()
	}
	return id
}

// New returns 32 hex characters.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strings.Repeat("0", 32)
	}
	return hex.EncodeToString(b[:])
}
