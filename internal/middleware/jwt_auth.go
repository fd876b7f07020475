package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/roadscope/rs-fleet/internal/session"
	"github.com/roadscope/rs-fleet/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// SessionChecker confirms the token's session is still live. Logout
// and admin revocation remove sessions, which invalidates tokens
// before their natural expiry.
type SessionChecker interface {
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
}

type JWTAuth struct {
	tokens   TokenValidator
	sessions SessionChecker
}

func NewJWTAuth(t TokenValidator, s SessionChecker) *JWTAuth {
	return &JWTAuth{tokens: t, sessions: s}
}

// Middleware verifies the JWT and injects AuthContext
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Sessions are keyed by jti. A token without a live session
		// was logged out or revoked; fail closed on lookup errors.
		if m.sessions != nil {
			_, err := m.sessions.GetSession(r.Context(), claims.ID)
			if errors.Is(err, session.ErrSessionNotFound) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		ac := &AuthContext{
			UserID:    claims.UserID(),
			Roles:     claims.Roles,
			SessionID: claims.ID,
		}

		ctx := WithAuthContext(r.Context(), ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
