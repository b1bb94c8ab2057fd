// Package requesttime captures one "now" per request so every timestamp
// written while serving it (audit entry, notification bucket) agrees.
package requesttime

import (
	"net/http"
	"time"

	"lifetag/pkg/requestcontext"
)

// Middleware stores the request start time in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
