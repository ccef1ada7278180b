package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formauth/auth-server-go/internal/database"
	"github.com/formauth/auth-server-go/internal/model"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	_, err = db.Exec(`TRUNCATE users`)
	require.NoError(t, err)
	return db
}

func strPtr(s string) *string { return &s }

func TestHandleNotFound(t *testing.T) {
	v := 42

	got, err := HandleNotFound(&v, sql.ErrNoRows)
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = HandleNotFound(&v, nil)
	assert.NoError(t, err)
	assert.Equal(t, 42, *got)

	boom := errors.New("boom")
	got, err = HandleNotFound(&v, boom)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
}

func TestTranslateWriteError(t *testing.T) {
	t.Run("unique violation becomes conflict", func(t *testing.T) {
		err := translateWriteError(&pq.Error{Code: "23505", Constraint: "users_email_key"})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Contains(t, err.Error(), "users_email_key")
	})

	t.Run("other pq errors pass through", func(t *testing.T) {
		src := &pq.Error{Code: "23502"}
		err := translateWriteError(src)
		assert.NotErrorIs(t, err, ErrConflict)
		assert.Equal(t, src, err)
	})

	t.Run("plain errors pass through", func(t *testing.T) {
		src := errors.New("connection reset")
		assert.Equal(t, src, translateWriteError(src))
	})
}

type fakeResult struct{ rows int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

func TestRequireRowAffected(t *testing.T) {
	assert.NoError(t, requireRowAffected(fakeResult{rows: 1}, nil))
	assert.ErrorIs(t, requireRowAffected(fakeResult{rows: 0}, nil), ErrNotFound)
	assert.ErrorIs(t,
		requireRowAffected(nil, &pq.Error{Code: "23505", Constraint: "users_username_key"}),
		ErrConflict)
}

func TestAccountRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewAccountRepository(db.DB)
	ctx := context.Background()

	account, err := repo.Create(ctx, model.CreateAccountParams{
		Email:        "a@x.com",
		PasswordHash: strPtr("$2a$10$hash"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "a@x.com", account.Email)
	assert.False(t, account.Onboarded)
	assert.True(t, account.HasPassword())

	t.Run("duplicate email conflicts", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateAccountParams{Email: "a@x.com"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("oauth account without password", func(t *testing.T) {
		oauth, err := repo.Create(ctx, model.CreateAccountParams{Email: "o@x.com"})
		require.NoError(t, err)
		assert.False(t, oauth.HasPassword())
	})
}

func TestAccountRepository_Find(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewAccountRepository(db.DB)
	ctx := context.Background()

	created, err := repo.Create(ctx, model.CreateAccountParams{Email: "a@x.com"})
	require.NoError(t, err)

	t.Run("by id", func(t *testing.T) {
		got, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", got.Email)
	})

	t.Run("by email", func(t *testing.T) {
		got, err := repo.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("returns nil for unknown email", func(t *testing.T) {
		got, err := repo.FindByEmail(ctx, "nobody@x.com")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestAccountRepository_Onboarding(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewAccountRepository(db.DB)
	ctx := context.Background()

	first, err := repo.Create(ctx, model.CreateAccountParams{Email: "a@x.com"})
	require.NoError(t, err)
	second, err := repo.Create(ctx, model.CreateAccountParams{Email: "b@x.com"})
	require.NoError(t, err)

	require.NoError(t, repo.CompleteOnboarding(ctx, first.ID, "Ann", "ann"))

	got, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Onboarded)
	assert.Equal(t, "ann", *got.Username)

	t.Run("username lookup excludes the owner", func(t *testing.T) {
		other, err := repo.FindByUsername(ctx, "ann", first.ID)
		require.NoError(t, err)
		assert.Nil(t, other)

		owner, err := repo.FindByUsername(ctx, "ann", "")
		require.NoError(t, err)
		assert.Equal(t, first.ID, owner.ID)
	})

	t.Run("taken username conflicts", func(t *testing.T) {
		err := repo.CompleteOnboarding(ctx, second.ID, "Bob", "ann")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown account", func(t *testing.T) {
		err := repo.CompleteOnboarding(ctx, "00000000-0000-0000-0000-000000000000", "X", "xx_x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAccountRepository_ResetToken(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewAccountRepository(db.DB)
	ctx := context.Background()

	account, err := repo.Create(ctx, model.CreateAccountParams{Email: "a@x.com"})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, repo.UpdateResetToken(ctx, account.ID, strPtr("fp-live"), &future))

	t.Run("finds live token", func(t *testing.T) {
		got, err := repo.FindByResetTokenHash(ctx, "fp-live")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, account.ID, got.ID)
	})

	t.Run("ignores expired token", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, repo.UpdateResetToken(ctx, account.ID, strPtr("fp-old"), &past))

		got, err := repo.FindByResetTokenHash(ctx, "fp-old")
		require.NoError(t, err)
		assert.Nil(t, got)

		n, err := repo.ClearExpiredResetTokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		cleared, err := repo.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Nil(t, cleared.ResetTokenHash)
		assert.Nil(t, cleared.ResetTokenExpiresAt)
	})

	t.Run("consume only matches the stored hash once", func(t *testing.T) {
		require.NoError(t, repo.UpdateResetToken(ctx, account.ID, strPtr("fp-once"), &future))

		assert.ErrorIs(t, repo.ConsumeResetToken(ctx, account.ID, "fp-other"), ErrNotFound)
		require.NoError(t, repo.ConsumeResetToken(ctx, account.ID, "fp-once"))
		assert.ErrorIs(t, repo.ConsumeResetToken(ctx, account.ID, "fp-once"), ErrNotFound)

		got, err := repo.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ResetTokenHash)
		assert.Nil(t, got.ResetTokenExpiresAt)
	})

	t.Run("consume rejects an expired token", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, repo.UpdateResetToken(ctx, account.ID, strPtr("fp-stale"), &past))
		assert.ErrorIs(t, repo.ConsumeResetToken(ctx, account.ID, "fp-stale"), ErrNotFound)
	})

	t.Run("clear inside a transaction", func(t *testing.T) {
		require.NoError(t, repo.UpdateResetToken(ctx, account.ID, strPtr("fp-tx"), &future))

		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			txRepo := repo.WithTx(tx)
			if err := txRepo.ConsumeResetToken(ctx, account.ID, "fp-tx"); err != nil {
				return err
			}
			return txRepo.UpdatePassword(ctx, account.ID, "$2a$10$new")
		})
		require.NoError(t, err)

		got, err := repo.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "$2a$10$new", *got.PasswordHash)
		assert.Nil(t, got.ResetTokenHash)
	})
}
