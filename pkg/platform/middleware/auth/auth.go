package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"lifetag/pkg/domain"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/requestcontext"
)

// AccountValidator validates bearer tokens issued by the external auth
// component.
type AccountValidator interface {
	ValidateAccountToken(tokenString string) (*AccountClaims, error)
}

// AccountClaims is what the auth component vouches for.
type AccountClaims struct {
	AccountID domain.AccountID
	Entitled  bool
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAccount rejects requests without a valid bearer token and stores the
// authenticated account in the request context.
func RequireAccount(validator AccountValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateAccountToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithAccount(ctx, requestcontext.AccountContext{
				AccountID: claims.AccountID,
				Entitled:  claims.Entitled,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
