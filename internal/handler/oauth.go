package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/formauth/auth-server-go/internal/audit"
	apperrors "github.com/formauth/auth-server-go/internal/errors"
	"github.com/formauth/auth-server-go/internal/service"
)

type OAuthHandler struct {
	oauthService *service.OAuthService
}

func NewOAuthHandler(oauthService *service.OAuthService) *OAuthHandler {
	return &OAuthHandler{oauthService: oauthService}
}

func (h *OAuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{provider}", h.Start)
	r.Get("/{provider}/callback", h.Callback)

	return r
}

// Start redirects the browser to the provider's consent page.
func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, err := h.oauthService.AuthURL(r.Context(), provider)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback finishes the handshake and answers with a session token for the
// account owning the provider-verified email.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	if errMsg := query.Get("error"); errMsg != "" {
		log.Warn().Str("error", errMsg).Str("provider", provider).Msg("OAuth error from provider")
		h.fail(w, r, provider, apperrors.ValidationError("Sign-in was cancelled or denied by the provider"))
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if state == "" {
		h.fail(w, r, provider, apperrors.InvalidOAuthState())
		return
	}
	if code == "" {
		h.fail(w, r, provider, apperrors.MissingRequired("code"))
		return
	}

	result, err := h.oauthService.Complete(r.Context(), provider, code, state)
	if err != nil {
		h.fail(w, r, provider, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventOAuthLink,
		AccountID: result.Account.ID,
		Details:   map[string]interface{}{"provider": provider},
	})

	writeJSON(w, http.StatusOK, formatAuthResult(result))
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request, provider string, err error) {
	audit.LogFromRequest(r, audit.Event{
		Type: audit.EventOAuthFailure,
		Details: map[string]interface{}{
			"provider": provider,
			"code":     string(apperrors.GetCode(err)),
		},
	})
	writeError(w, r, err)
}
