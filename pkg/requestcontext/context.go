// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them without importing net/http.
//
//	account, ok := requestcontext.Account(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"

	"lifetag/pkg/domain"
)

type (
	accountKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// AccountContext is the authenticated-account capability supplied by the
// external auth/session component.
type AccountContext struct {
	AccountID domain.AccountID
	Entitled  bool
}

// Account retrieves the authenticated account. ok is false on anonymous requests.
func Account(ctx context.Context) (AccountContext, bool) {
	acc, ok := ctx.Value(accountKey{}).(AccountContext)
	if !ok || acc.AccountID.IsNil() {
		return AccountContext{}, false
	}
	return acc, true
}

// WithAccount injects an authenticated account into the context.
func WithAccount(ctx context.Context, acc AccountContext) context.Context {
	return context.WithValue(ctx, accountKey{}, acc)
}

// RequestID retrieves the correlation ID, or "" when unset.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the request-scoped time, falling back to time.Now().
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request time. Tests use it for deterministic timestamps.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
