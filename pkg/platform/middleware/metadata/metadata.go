package metadata

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"lifetag/pkg/platform/privacy"
)

// Context keys for client metadata.
type contextKeyOrigin struct{}
type contextKeyUserAgentClass struct{}

// ClientMetadata reduces the caller's address and User-Agent to the coarse
// values the audit trail is allowed to keep and stores them in the context.
// The raw address never leaves this middleware.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := privacy.AnonymizeIP(ClientIPFromRequest(r))
		uaClass := ClassifyUserAgent(r.Header.Get("User-Agent"))

		ctx := WithClientMetadata(r.Context(), origin, uaClass)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOrigin retrieves the anonymized network origin from the context.
func GetOrigin(ctx context.Context) string {
	if origin, ok := ctx.Value(contextKeyOrigin{}).(string); ok {
		return origin
	}
	return "unknown"
}

// GetUserAgentClass retrieves the user-agent class from the context.
func GetUserAgentClass(ctx context.Context) string {
	if class, ok := ctx.Value(contextKeyUserAgentClass{}).(string); ok {
		return class
	}
	return "unknown"
}

// WithClientMetadata injects origin and user-agent class into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, origin, uaClass string) context.Context {
	ctx = context.WithValue(ctx, contextKeyOrigin{}, origin)
	ctx = context.WithValue(ctx, contextKeyUserAgentClass{}, uaClass)
	return ctx
}

// ClassifyUserAgent maps a User-Agent header to "<kind>/<browser>", where kind
// is one of mobile, desktop, bot or unknown. Versions are dropped.
func ClassifyUserAgent(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return "unknown"
	}
	ua := useragent.New(header)
	kind := "desktop"
	switch {
	case ua.Bot():
		kind = "bot"
	case ua.Mobile():
		kind = "mobile"
	}
	browser, _ := ua.Browser()
	if browser == "" {
		return kind
	}
	return kind + "/" + strings.ToLower(browser)
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if addr := r.RemoteAddr; addr != "" {
		// For IPv6, format is [::1]:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
