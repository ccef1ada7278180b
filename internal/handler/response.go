package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/formauth/auth-server-go/internal/errors"
	"github.com/formauth/auth-server-go/internal/httputil"
	"github.com/formauth/auth-server-go/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// writeError logs server-side failures with their cause before the generic
// response goes out.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.IsServerError(err) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	httputil.WriteError(w, err)
}

func formatAuthResult(result *service.AuthResult) map[string]any {
	return map[string]any{
		"account":   result.Account.Response(),
		"token":     result.Token.Value,
		"expiresAt": result.Token.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
