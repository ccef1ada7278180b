package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/formauth/auth-server-go/internal/config"
	apperrors "github.com/formauth/auth-server-go/internal/errors"
	"github.com/formauth/auth-server-go/internal/model"
	"github.com/formauth/auth-server-go/internal/util"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var errOAuthProvider = errors.New("oauth provider returned an error")

// VerifiedIdentity is an email address an OAuth provider vouched for. Only
// OAuthService builds one, after a successful code exchange.
type VerifiedIdentity struct {
	provider string
	subject  string
	email    string
}

func (v VerifiedIdentity) Provider() string { return v.provider }
func (v VerifiedIdentity) Subject() string  { return v.subject }
func (v VerifiedIdentity) Email() string    { return v.email }

// OAuthProvider is one configured authorization-code provider.
type OAuthProvider struct {
	Config      oauth2.Config
	UserInfoURL string
}

// GoogleProvider returns the Google provider, or false when client
// credentials are missing.
func GoogleProvider(cfg *config.Config) (OAuthProvider, bool) {
	if !cfg.GoogleEnabled() {
		return OAuthProvider{}, false
	}
	return OAuthProvider{
		Config: oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL(model.OAuthProviderGoogle),
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		UserInfoURL: googleUserInfoURL,
	}, true
}

type OAuthLinker interface {
	LinkOAuthAccount(ctx context.Context, identity VerifiedIdentity) (*AuthResult, error)
}

// OAuthService runs the authorization-code handshake (with PKCE) and hands
// the verified email to the account linker.
type OAuthService struct {
	providers map[string]OAuthProvider
	states    OAuthStateStore
	linker    OAuthLinker
}

func NewOAuthService(providers map[string]OAuthProvider, states OAuthStateStore, linker OAuthLinker) *OAuthService {
	return &OAuthService{
		providers: providers,
		states:    states,
		linker:    linker,
	}
}

func (s *OAuthService) Enabled(provider string) bool {
	_, ok := s.providers[provider]
	return ok
}

// AuthURL starts a handshake and returns the provider URL to redirect to.
func (s *OAuthService) AuthURL(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", apperrors.ProviderNotConfigured(provider)
	}

	state, err := util.GenerateToken()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Could not start sign-in", err)
	}
	verifier := oauth2.GenerateVerifier()

	err = s.states.Put(ctx, state, PendingOAuth{Provider: provider, CodeVerifier: verifier}, config.OAuthStateTTL)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Could not start sign-in", err)
	}

	return p.Config.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// Complete redeems the callback's state and code and signs the user in.
func (s *OAuthService) Complete(ctx context.Context, provider, code, state string) (*AuthResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, apperrors.ProviderNotConfigured(provider)
	}

	pending, err := s.states.Take(ctx, state)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not complete sign-in", err)
	}
	if pending == nil || pending.Provider != provider {
		return nil, apperrors.InvalidOAuthState()
	}

	tok, err := p.Config.Exchange(ctx, code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return nil, apperrors.External(provider, fmt.Errorf("exchange code: %w", err))
	}

	profile, err := fetchProfile(ctx, p, tok)
	if err != nil {
		return nil, apperrors.External(provider, err)
	}
	if profile.Email == "" || !profile.EmailVerified {
		log.Warn().Str("provider", provider).Str("subject", profile.ID).Msg("oauth profile without verified email")
		return nil, apperrors.Forbidden("Your provider account has no verified email address")
	}

	identity := VerifiedIdentity{
		provider: provider,
		subject:  profile.ID,
		email:    strings.TrimSpace(profile.Email),
	}
	return s.linker.LinkOAuthAccount(ctx, identity)
}

func fetchProfile(ctx context.Context, p OAuthProvider, tok *oauth2.Token) (*model.OAuthUserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}

	resp, err := p.Config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("userinfo request failed")
		return nil, errOAuthProvider
	}

	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}

	return &model.OAuthUserProfile{
		ID:            info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
	}, nil
}
