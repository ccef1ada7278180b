package util

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is bcrypt's input limit; longer passwords are rejected
// at the boundary instead of being silently truncated.
const MaxPasswordBytes = 72

// PasswordHasher hashes and verifies passwords with bcrypt. bcrypt is slow on
// purpose, so both operations run off the caller's goroutine and give up when
// ctx is done.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Cost() int {
	return h.cost
}

type hashResult struct {
	hash []byte
	err  error
}

// Hash returns a salted bcrypt hash of password.
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	done := make(chan hashResult, 1)
	go func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
		done <- hashResult{hash: hash, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("hash password: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("hash password: %w", res.err)
		}
		return string(res.hash), nil
	}
}

// Verify reports whether password matches hash. A malformed or empty hash is
// a mismatch, not an error; the only error is ctx being done.
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	if hash == "" {
		return false, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("verify password: %w", ctx.Err())
	case err := <-done:
		// mismatch, ErrHashTooShort and invalid prefix/cost all read as "no"
		return err == nil, nil
	}
}
