package model

import (
	"time"
)

type Account struct {
	ID                  string     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	Name                *string    `db:"name" json:"name,omitempty"`
	Username            *string    `db:"username" json:"username,omitempty"`
	Onboarded           bool       `db:"onboarded" json:"onboarded"`
	ResetTokenHash      *string    `db:"reset_token_hash" json:"-"`
	ResetTokenExpiresAt *time.Time `db:"reset_token_expires_at" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasPassword is false for accounts created through an OAuth provider only.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

type CreateAccountParams struct {
	Email        string
	PasswordHash *string
}

// AccountResponse is the public view of an Account.
type AccountResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        *string   `json:"name"`
	Username    *string   `json:"username"`
	Onboarded   bool      `json:"onboarded"`
	HasPassword bool      `json:"hasPassword"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (a *Account) Response() AccountResponse {
	return AccountResponse{
		ID:          a.ID,
		Email:       a.Email,
		Name:        a.Name,
		Username:    a.Username,
		Onboarded:   a.Onboarded,
		HasPassword: a.HasPassword(),
		CreatedAt:   a.CreatedAt,
	}
}
