package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/formauth/auth-server-go/internal/database"
	"github.com/formauth/auth-server-go/internal/model"
)

// AccountRepository is everything the credential workflows need from storage.
// Find* return (nil, nil) when nothing matches. Writes that collide with the
// email or username unique constraints return an error wrapping ErrConflict;
// the constraint, not a prior lookup, is the authority on uniqueness.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	// FindByUsername ignores the account with id excludeID, if any.
	FindByUsername(ctx context.Context, username, excludeID string) (*model.Account, error)
	// FindByResetTokenHash only matches tokens that have not expired yet.
	FindByResetTokenHash(ctx context.Context, tokenHash string) (*model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// UpdateResetToken sets both reset columns; passing nil for both clears them.
	UpdateResetToken(ctx context.Context, id string, tokenHash *string, expiresAt *time.Time) error
	// ConsumeResetToken clears the reset columns only while they still hold
	// tokenHash unexpired, returning ErrNotFound otherwise. Of two concurrent
	// calls with the same hash, at most one succeeds.
	ConsumeResetToken(ctx context.Context, id, tokenHash string) error
	CompleteOnboarding(ctx context.Context, id, name, username string) error
	ClearExpiredResetTokens(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db database.DBTX
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `SELECT * FROM users WHERE email = $1`, email)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByUsername(ctx context.Context, username, excludeID string) (*model.Account, error) {
	var account model.Account
	var err error
	if excludeID == "" {
		err = r.db.GetContext(ctx, &account, `SELECT * FROM users WHERE username = $1`, username)
	} else {
		err = r.db.GetContext(ctx, &account, `
			SELECT * FROM users WHERE username = $1 AND id <> $2
		`, username, excludeID)
	}
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByResetTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM users
		WHERE reset_token_hash = $1 AND reset_token_expires_at > NOW()
	`, tokenHash)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO users (email, password_hash, onboarded)
		VALUES ($1, $2, FALSE)
		RETURNING *
	`, params.Email, params.PasswordHash)
	if err != nil {
		return nil, translateWriteError(err)
	}
	return &account, nil
}

func (r *accountRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return requireRowAffected(r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id, passwordHash, time.Now()))
}

func (r *accountRepo) UpdateResetToken(ctx context.Context, id string, tokenHash *string, expiresAt *time.Time) error {
	return requireRowAffected(r.db.ExecContext(ctx, `
		UPDATE users SET
			reset_token_hash = $2,
			reset_token_expires_at = $3,
			updated_at = $4
		WHERE id = $1
	`, id, tokenHash, expiresAt, time.Now()))
}

func (r *accountRepo) ConsumeResetToken(ctx context.Context, id, tokenHash string) error {
	return requireRowAffected(r.db.ExecContext(ctx, `
		UPDATE users SET
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND reset_token_hash = $2 AND reset_token_expires_at > NOW()
	`, id, tokenHash))
}

func (r *accountRepo) CompleteOnboarding(ctx context.Context, id, name, username string) error {
	return requireRowAffected(r.db.ExecContext(ctx, `
		UPDATE users SET
			name = $2,
			username = $3,
			onboarded = TRUE,
			updated_at = $4
		WHERE id = $1
	`, id, name, username, time.Now()))
}

func (r *accountRepo) ClearExpiredResetTokens(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = NOW()
		WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
