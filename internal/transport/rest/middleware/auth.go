package middleware

import (
	"context"
	"net/http"
	"strings"

	"tutorcall/internal/model"
	"tutorcall/internal/service"

	"github.com/rs/zerolog/log"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenValidator is what the middleware needs from service.AuthService
type TokenValidator interface {
	ValidateToken(token string) (*model.ParticipantClaims, error)
}

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	authSvc TokenValidator
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authSvc TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{authSvc: authSvc}
}

// RequireAuth validates the bearer JWT and stores its claims on the request context
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		claims, err := m.authSvc.ValidateToken(token)
		if err != nil {
			log.Debug().Err(err).Str("module", "auth").Str("path", r.URL.Path).Msg("token rejected")
			http.Error(w, `{"error":"`+service.ErrInvalidToken.Error()+`"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts the authenticated caller from context
func GetClaims(ctx context.Context) *model.ParticipantClaims {
	if v, ok := ctx.Value(claimsKey).(*model.ParticipantClaims); ok {
		return v
	}
	return nil
}

// WithClaims returns a context carrying claims, as RequireAuth would
func WithClaims(ctx context.Context, claims *model.ParticipantClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
