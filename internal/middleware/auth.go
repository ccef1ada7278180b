package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/formauth/auth-server-go/internal/errors"
	"github.com/formauth/auth-server-go/internal/httputil"
	"github.com/formauth/auth-server-go/internal/token"
)

type contextKey string

const AccountIDContextKey contextKey = "accountID"

// GetAccountID returns the account id placed in ctx by AuthMiddleware.
func GetAccountID(ctx context.Context) string {
	if id, ok := ctx.Value(AccountIDContextKey).(string); ok {
		return id
	}
	return ""
}

type TokenVerifier interface {
	Verify(value string) (string, error)
}

// AuthMiddleware requires a valid bearer session token. Nothing behind it
// runs for a missing, malformed, tampered or expired token.
type AuthMiddleware struct {
	tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		accountID, err := m.tokens.Verify(raw)
		if errors.Is(err, token.ErrExpired) {
			httputil.WriteError(w, apperrors.TokenExpired())
			return
		}
		if err != nil {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: invalid token attempt")
			httputil.WriteError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDContextKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}
