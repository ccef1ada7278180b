package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/formauth/auth-server-go/internal/audit"
	"github.com/formauth/auth-server-go/internal/config"
	apperrors "github.com/formauth/auth-server-go/internal/errors"
	"github.com/formauth/auth-server-go/internal/httputil"
	"github.com/formauth/auth-server-go/internal/middleware"
	"github.com/formauth/auth-server-go/internal/service"
	"github.com/formauth/auth-server-go/internal/util"
)

const (
	msgResetRequested  = "If an account exists for that email, a password reset link has been sent"
	msgResetCompleted  = "Password has been reset"
	msgPasswordChanged = "Password changed"
	msgOnboarded       = "Onboarding complete"
)

type AuthHandler struct {
	authService    *service.AuthService
	authMiddleware *middleware.AuthMiddleware
	limiter        service.Limiter
}

// NewAuthHandler builds the credential endpoints. A nil limiter disables the
// per-IP limits.
func NewAuthHandler(
	authService *service.AuthService,
	authMiddleware *middleware.AuthMiddleware,
	limiter service.Limiter,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		authMiddleware: authMiddleware,
		limiter:        limiter,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.rateLimit("register", config.RegisterRateLimit)).Post("/register", h.Register)
	r.With(h.rateLimit("login", config.LoginRateLimit)).Post("/login", h.Login)
	r.With(h.rateLimit("forgot-password", config.ResetRateLimit)).Post("/forgot-password", h.ForgotPassword)
	r.With(h.rateLimit("reset-password", config.ResetRateLimit)).Post("/reset-password", h.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Handler)
		r.Get("/me", h.Me)
		r.Post("/change-password", h.ChangePassword)
		r.Post("/onboard", h.Onboard)
	})

	return r
}

func (h *AuthHandler) rateLimit(route string, limit int) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewIPRateLimitMiddleware(h.limiter, limit, config.RateLimitWindow, route).Handler
}

// allowLoginAttempt caps attempts per submitted email regardless of client IP.
// Unknown emails are counted the same way as registered ones.
func (h *AuthHandler) allowLoginAttempt(w http.ResponseWriter, r *http.Request, email string) bool {
	if h.limiter == nil {
		return true
	}

	key := "login-email:" + util.HashToken(strings.ToLower(email))
	allowed, resetAt := h.limiter.CheckLimit(r.Context(), key, config.LoginEmailRateLimit, config.LoginEmailRateWindow)
	if allowed {
		return true
	}

	middleware.SetRetryAfter(w, resetAt)
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventRateLimitExceed,
		Details: map[string]interface{}{"route": "login", "email": util.MaskEmail(email)},
	})
	writeError(w, r, apperrors.RateLimitExceeded())
	return false
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// Token is the older name for ResetSecret, still sent by reset links
// rendered before the rename.
type resetPasswordRequest struct {
	ResetSecret string `json:"resetSecret"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (req resetPasswordRequest) secret() string {
	if req.ResetSecret != "" {
		return req.ResetSecret
	}
	return req.Token
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type onboardRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

func validateNewPassword(field, password string) error {
	if password == "" {
		return apperrors.MissingRequired(field)
	}
	if problem := util.PasswordProblem(password); problem != "" {
		return apperrors.InvalidInput(field, problem)
	}
	return nil
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, apperrors.MissingRequired("email"))
		return
	}
	if !util.IsValidEmail(email) {
		writeError(w, r, apperrors.InvalidInput("email", "must be a valid email address"))
		return
	}
	if err := validateNewPassword("password", req.Password); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:    email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventRegister,
		AccountID: account.ID,
	})

	writeJSON(w, http.StatusCreated, map[string]any{"account": account.Response()})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, apperrors.MissingRequired("email"))
		return
	}
	if req.Password == "" {
		writeError(w, r, apperrors.MissingRequired("password"))
		return
	}
	if !h.allowLoginAttempt(w, r, email) {
		return
	}

	result, err := h.authService.Login(r.Context(), service.LoginInput{
		Email:    email,
		Password: req.Password,
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventLoginFailure,
				Details: map[string]interface{}{"email": util.MaskEmail(email)},
			})
		}
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventLoginSuccess,
		AccountID: result.Account.ID,
	})

	writeJSON(w, http.StatusOK, formatAuthResult(result))
}

// ForgotPassword answers identically whether or not the email is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, apperrors.MissingRequired("email"))
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), email); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventResetRequested,
		Details: map[string]interface{}{"email": util.MaskEmail(email)},
	})

	writeMessage(w, msgResetRequested)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	secret := req.secret()
	if secret == "" {
		writeError(w, r, apperrors.MissingRequired("resetSecret"))
		return
	}
	if err := validateNewPassword("newPassword", req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.authService.ResetPassword(r.Context(), service.ResetPasswordInput{
		ResetSecret: secret,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeInvalidResetToken {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventResetRejected})
		}
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventResetCompleted})

	writeMessage(w, msgResetCompleted)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	var req changePasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.OldPassword == "" {
		writeError(w, r, apperrors.MissingRequired("oldPassword"))
		return
	}
	if err := validateNewPassword("newPassword", req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.authService.ChangePassword(r.Context(), accountID, service.ChangePasswordInput{
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventPasswordFailure,
				AccountID: accountID,
			})
		}
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPasswordChange,
		AccountID: accountID,
	})

	writeMessage(w, msgPasswordChanged)
}

func (h *AuthHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	var req onboardRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	username := strings.TrimSpace(req.Username)
	switch {
	case name == "":
		writeError(w, r, apperrors.MissingRequired("name"))
		return
	case utf8.RuneCountInString(name) > util.MaxNameLength:
		writeError(w, r, apperrors.InvalidInput("name", "must be at most 100 characters"))
		return
	case username == "":
		writeError(w, r, apperrors.MissingRequired("username"))
		return
	case !util.IsValidUsername(username):
		writeError(w, r, apperrors.InvalidInput("username", "must be 3-32 letters, digits, '_', '.' or '-'"))
		return
	}

	account, err := h.authService.Onboard(r.Context(), accountID, service.OnboardInput{
		Name:     name,
		Username: username,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventOnboard,
		AccountID: accountID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": msgOnboarded,
		"account": account.Response(),
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.authService.GetAccount(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": account.Response()})
}
