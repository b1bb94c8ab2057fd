package testutil

import (
	"context"
	"net/http"

	id "lifetag/pkg/domain"
	"lifetag/pkg/requestcontext"
)

// WithAccount adds an authenticated account to the request context.
// This simulates what the auth middleware does for bearer-authenticated requests.
func WithAccount(req *http.Request, accountID id.AccountID, entitled bool) *http.Request {
	ctx := requestcontext.WithAccount(req.Context(), requestcontext.AccountContext{
		AccountID: accountID,
		Entitled:  entitled,
	})
	return req.WithContext(ctx)
}

// AccountMiddleware injects a fixed account into every request, standing in
// for the bearer-token middleware in handler tests.
func AccountMiddleware(accountID id.AccountID, entitled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, WithAccount(r, accountID, entitled))
		})
	}
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
