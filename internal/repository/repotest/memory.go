// Package repotest provides an in-memory AccountRepository for tests that
// exercise the credential workflows without Postgres.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/formauth/auth-server-go/internal/database"
	"github.com/formauth/auth-server-go/internal/model"
	"github.com/formauth/auth-server-go/internal/repository"
)

// MemoryAccounts mimics the users table, including its unique constraints
// and the expiry filter on reset token lookups.
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*model.Account

	// Now is the clock used for reset token expiry; defaults to time.Now.
	Now func() time.Time
	// Fail, when set, is consulted before every operation; a non-nil result
	// is returned as the operation's error.
	Fail func(op string) error
}

var _ repository.AccountRepository = (*MemoryAccounts)(nil)

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		accounts: make(map[string]*model.Account),
		Now:      time.Now,
	}
}

func (m *MemoryAccounts) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

func clone(a *model.Account) *model.Account {
	c := *a
	return &c
}

func (m *MemoryAccounts) WithTx(_ *sqlx.Tx) repository.AccountRepository {
	return m
}

func (m *MemoryAccounts) FindByID(_ context.Context, id string) (*model.Account, error) {
	if err := m.fail("FindByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.accounts[id]; ok {
		return clone(a), nil
	}
	return nil, nil
}

func (m *MemoryAccounts) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	if err := m.fail("FindByEmail"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Email == email {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (m *MemoryAccounts) FindByUsername(_ context.Context, username, excludeID string) (*model.Account, error) {
	if err := m.fail("FindByUsername"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.ID != excludeID && a.Username != nil && *a.Username == username {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (m *MemoryAccounts) FindByResetTokenHash(_ context.Context, tokenHash string) (*model.Account, error) {
	if err := m.fail("FindByResetTokenHash"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	for _, a := range m.accounts {
		if a.ResetTokenHash != nil && *a.ResetTokenHash == tokenHash &&
			a.ResetTokenExpiresAt != nil && a.ResetTokenExpiresAt.After(now) {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (m *MemoryAccounts) Create(_ context.Context, params model.CreateAccountParams) (*model.Account, error) {
	if err := m.fail("Create"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Email == params.Email {
			return nil, fmt.Errorf("%w: users_email_key", repository.ErrConflict)
		}
	}

	now := m.Now()
	a := &model.Account{
		ID:        uuid.NewString(),
		Email:     params.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.PasswordHash != nil {
		hash := *params.PasswordHash
		a.PasswordHash = &hash
	}
	m.accounts[a.ID] = a
	return clone(a), nil
}

func (m *MemoryAccounts) update(op, id string, fn func(a *model.Account) error) error {
	if err := m.fail(op); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(a); err != nil {
		return err
	}
	a.UpdatedAt = m.Now()
	return nil
}

func (m *MemoryAccounts) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return m.update("UpdatePassword", id, func(a *model.Account) error {
		a.PasswordHash = &passwordHash
		return nil
	})
}

func (m *MemoryAccounts) UpdateResetToken(_ context.Context, id string, tokenHash *string, expiresAt *time.Time) error {
	if (tokenHash == nil) != (expiresAt == nil) {
		return fmt.Errorf("check constraint users_reset_token_pair violated")
	}
	return m.update("UpdateResetToken", id, func(a *model.Account) error {
		a.ResetTokenHash = nil
		a.ResetTokenExpiresAt = nil
		if tokenHash != nil {
			h, exp := *tokenHash, *expiresAt
			a.ResetTokenHash = &h
			a.ResetTokenExpiresAt = &exp
		}
		return nil
	})
}

func (m *MemoryAccounts) ConsumeResetToken(_ context.Context, id, tokenHash string) error {
	return m.update("ConsumeResetToken", id, func(a *model.Account) error {
		if a.ResetTokenHash == nil || *a.ResetTokenHash != tokenHash ||
			a.ResetTokenExpiresAt == nil || !a.ResetTokenExpiresAt.After(m.Now()) {
			return repository.ErrNotFound
		}
		a.ResetTokenHash = nil
		a.ResetTokenExpiresAt = nil
		return nil
	})
}

func (m *MemoryAccounts) CompleteOnboarding(_ context.Context, id, name, username string) error {
	if err := m.fail("CompleteOnboarding"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.accounts {
		if other.ID != id && other.Username != nil && *other.Username == username {
			return fmt.Errorf("%w: users_username_key", repository.ErrConflict)
		}
	}

	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Name = &name
	a.Username = &username
	a.Onboarded = true
	a.UpdatedAt = m.Now()
	return nil
}

func (m *MemoryAccounts) ClearExpiredResetTokens(_ context.Context) (int64, error) {
	if err := m.fail("ClearExpiredResetTokens"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	var n int64
	for _, a := range m.accounts {
		if a.ResetTokenExpiresAt != nil && !a.ResetTokenExpiresAt.After(now) {
			a.ResetTokenHash = nil
			a.ResetTokenExpiresAt = nil
			a.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Put stores a copy of a, for arranging state directly.
func (m *MemoryAccounts) Put(a *model.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = clone(a)
}

func (m *MemoryAccounts) snapshot() map[string]*model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.Account, len(m.accounts))
	for id, a := range m.accounts {
		out[id] = clone(a)
	}
	return out
}

func (m *MemoryAccounts) restore(accounts map[string]*model.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
}

// Transactor runs the function with a nil transaction, which
// MemoryAccounts.WithTx ignores. Transactions run one at a time.
type Transactor struct {
	// Accounts, when set, is rolled back to its state before the
	// transaction if the function fails.
	Accounts *MemoryAccounts
	// Calls counts WithTx invocations.
	Calls int

	mu sync.Mutex
}

func (t *Transactor) WithTx(_ context.Context, fn database.TxFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++

	if t.Accounts == nil {
		return fn(nil)
	}
	before := t.Accounts.snapshot()
	if err := fn(nil); err != nil {
		t.Accounts.restore(before)
		return err
	}
	return nil
}
