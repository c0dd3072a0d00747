package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mahaj/presence-chat/pkg/model"
)

type contextKey string

const userKey contextKey = "user"

// TokenFromRequest reads a bearer token from the Authorization header and
// falls back to the token query parameter, which browsers need for websockets.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if header != "" {
		return strings.TrimSpace(header)
	}
	return r.URL.Query().Get("token")
}

func WithIdentity(ctx context.Context, identity model.UserIdentity) context.Context {
	return context.WithValue(ctx, userKey, identity)
}

func IdentityFrom(ctx context.Context) (model.UserIdentity, bool) {
	identity, ok := ctx.Value(userKey).(model.UserIdentity)
	return identity, ok
}

// Verifier is satisfied by JWTVerifier and by test doubles.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.UserIdentity, error)
}

// Middleware rejects requests without a valid token and stores the verified
// identity in the request context.
func Middleware(verifier Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := verifier.Verify(r.Context(), TokenFromRequest(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
