package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/formauth/auth-server-go/internal/config"
	"github.com/formauth/auth-server-go/internal/database"
	apperrors "github.com/formauth/auth-server-go/internal/errors"
	"github.com/formauth/auth-server-go/internal/model"
	"github.com/formauth/auth-server-go/internal/repository"
	"github.com/formauth/auth-server-go/internal/token"
	"github.com/formauth/auth-server-go/internal/util"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgIncorrectOldPass   = "Incorrect old password"
	msgEmailRegistered    = "Email already registered"
	msgUsernameTaken      = "Username already taken"
	msgCredentialFailure  = "Could not process credentials"
	msgTokenIssueFailure  = "Could not issue session token"
)

// Transactor runs fn inside a database transaction. *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
}

type TokenIssuer interface {
	Issue(accountID string) (token.Token, error)
}

type AuthServiceConfig struct {
	// ResetLinkBase is the absolute URL of the reset page; the secret is
	// appended as the "token" query parameter.
	ResetLinkBase string
	ResetTokenTTL time.Duration
	NotifyTimeout time.Duration
	Now           func() time.Time
}

type RegisterInput struct {
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type ChangePasswordInput struct {
	OldPassword string
	NewPassword string
}

type ResetPasswordInput struct {
	ResetSecret string
	NewPassword string
}

type OnboardInput struct {
	Name     string
	Username string
}

// AuthResult is an account together with a freshly issued session token.
type AuthResult struct {
	Account *model.Account
	Token   token.Token
}

// AuthService orchestrates the credential workflows. Every error it returns
// is an *apperrors.AppError.
type AuthService struct {
	db       Transactor
	accounts repository.AccountRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	notifier Notifier
	cfg      AuthServiceConfig

	notifications sync.WaitGroup

	decoyOnce sync.Once
	decoyHash string
}

func NewAuthService(
	db Transactor,
	accounts repository.AccountRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	notifier Notifier,
	cfg AuthServiceConfig,
) *AuthService {
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = config.ResetTokenTTL
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = config.NotifierSendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthService{
		db:       db,
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*model.Account, error) {
	existing, err := s.accounts.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.Conflict(msgEmailRegistered)
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, msgCredentialFailure, err)
	}

	account, err := s.accounts.Create(ctx, model.CreateAccountParams{
		Email:        input.Email,
		PasswordHash: &hash,
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.Conflict(msgEmailRegistered)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().Str("accountId", account.ID).Msg("account registered")
	return account, nil
}

// Login answers the same Unauthorized error for an unknown email, an account
// without a local password and a wrong password.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	account, err := s.accounts.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil || !account.HasPassword() {
		s.verifyDecoy(ctx, input.Password)
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	ok, err := s.hasher.Verify(ctx, input.Password, *account.PasswordHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, msgCredentialFailure, err)
	}
	if !ok {
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	return s.issue(account)
}

// verifyDecoy checks password against a throwaway hash so a login with no
// stored hash to compare costs as much as one with a wrong password.
func (s *AuthService) verifyDecoy(ctx context.Context, password string) {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(context.WithoutCancel(ctx), "decoy-password")
		if err != nil {
			log.Warn().Err(err).Msg("failed to prepare decoy password hash")
			return
		}
		s.decoyHash = hash
	})
	if s.decoyHash != "" {
		_, _ = s.hasher.Verify(ctx, password, s.decoyHash)
	}
}

// LinkOAuthAccount signs in the owner of a provider-verified email, creating
// a password-less account on first sight.
func (s *AuthService) LinkOAuthAccount(ctx context.Context, identity VerifiedIdentity) (*AuthResult, error) {
	account, err := s.accounts.FindByEmail(ctx, identity.Email())
	if err != nil {
		return nil, apperrors.Database(err)
	}

	if account == nil {
		account, err = s.accounts.Create(ctx, model.CreateAccountParams{Email: identity.Email()})
		if errors.Is(err, repository.ErrConflict) {
			// lost a race with a concurrent registration of the same email
			account, err = s.accounts.FindByEmail(ctx, identity.Email())
			if err == nil && account == nil {
				err = errors.New("account vanished after create conflict")
			}
		}
		if err != nil {
			return nil, apperrors.Database(err)
		}
		log.Info().
			Str("accountId", account.ID).
			Str("provider", identity.Provider()).
			Msg("account created from oauth identity")
	}

	return s.issue(account)
}

func (s *AuthService) ChangePassword(ctx context.Context, accountID string, input ChangePasswordInput) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil {
		return apperrors.NotFound("Account")
	}
	if !account.HasPassword() {
		return apperrors.Unauthorized(msgIncorrectOldPass)
	}

	ok, err := s.hasher.Verify(ctx, input.OldPassword, *account.PasswordHash)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, msgCredentialFailure, err)
	}
	if !ok {
		return apperrors.Unauthorized(msgIncorrectOldPass)
	}

	hash, err := s.hasher.Hash(ctx, input.NewPassword)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, msgCredentialFailure, err)
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		if err := accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
			return err
		}
		if account.ResetTokenHash == nil {
			return nil
		}
		return accounts.UpdateResetToken(ctx, account.ID, nil, nil)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("Account")
	}
	if err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("accountId", account.ID).Msg("password changed")
	return nil
}

// ForgotPassword never reports whether email belongs to an account. When it
// does, a reset token is stored and the link is handed to the notifier in the
// background.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		log.Error().Err(err).Str("email", util.MaskEmail(email)).Msg("forgot password: lookup failed")
		return nil
	}
	if account == nil {
		log.Debug().Str("email", util.MaskEmail(email)).Msg("forgot password: no such account")
		return nil
	}

	reset, err := util.IssueResetToken(s.cfg.Now(), s.cfg.ResetTokenTTL)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("forgot password: issue reset token failed")
		return nil
	}

	if err := s.accounts.UpdateResetToken(ctx, account.ID, &reset.Fingerprint, &reset.ExpiresAt); err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("forgot password: store reset token failed")
		return nil
	}

	s.dispatchReset(account, s.resetLink(reset.Secret))
	return nil
}

func (s *AuthService) resetLink(secret string) string {
	return s.cfg.ResetLinkBase + "?token=" + url.QueryEscape(secret)
}

// dispatchReset detaches from the request so a slow mail server cannot delay
// or fail the response.
func (s *AuthService) dispatchReset(account *model.Account, link string) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		if err := s.notifier.SendPasswordReset(ctx, account.Email, link); err != nil {
			log.Error().
				Err(err).
				Str("accountId", account.ID).
				Str("email", util.MaskEmail(account.Email)).
				Msg("failed to send password reset")
			return
		}
		log.Info().Str("accountId", account.ID).Msg("password reset dispatched")
	}()
}

// WaitForNotifications blocks until background notifications have finished.
func (s *AuthService) WaitForNotifications() {
	s.notifications.Wait()
}

// ResetPassword redeems a reset secret. The token is cleared, guarded on the
// fingerprint still being stored, in the same transaction that writes the new
// password, so of any number of concurrent redemptions at most one succeeds.
func (s *AuthService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	fingerprint := util.ResetTokenFingerprint(input.ResetSecret)
	account, err := s.accounts.FindByResetTokenHash(ctx, fingerprint)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil || account.ResetTokenHash == nil || account.ResetTokenExpiresAt == nil ||
		!s.cfg.Now().Before(*account.ResetTokenExpiresAt) ||
		!util.MatchesResetToken(input.ResetSecret, *account.ResetTokenHash) {
		return apperrors.InvalidResetToken()
	}

	hash, err := s.hasher.Hash(ctx, input.NewPassword)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, msgCredentialFailure, err)
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		if err := accounts.ConsumeResetToken(ctx, account.ID, fingerprint); err != nil {
			return err
		}
		return accounts.UpdatePassword(ctx, account.ID, hash)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.InvalidResetToken()
	}
	if err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("accountId", account.ID).Msg("password reset completed")
	return nil
}

// Onboard sets name and username once. Re-submitting the username the account
// already holds is accepted.
func (s *AuthService) Onboard(ctx context.Context, accountID string, input OnboardInput) (*model.Account, error) {
	taken, err := s.accounts.FindByUsername(ctx, input.Username, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if taken != nil {
		return nil, apperrors.Conflict(msgUsernameTaken)
	}

	err = s.accounts.CompleteOnboarding(ctx, accountID, input.Name, input.Username)
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, apperrors.Conflict(msgUsernameTaken)
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NotFound("Account")
	case err != nil:
		return nil, apperrors.Database(err)
	}

	log.Info().Str("accountId", accountID).Msg("account onboarded")
	return s.GetAccount(ctx, accountID)
}

func (s *AuthService) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	return account, nil
}

func (s *AuthService) issue(account *model.Account) (*AuthResult, error) {
	tok, err := s.tokens.Issue(account.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, msgTokenIssueFailure, err)
	}
	return &AuthResult{Account: account, Token: tok}, nil
}
