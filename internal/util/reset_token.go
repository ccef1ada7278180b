package util

import (
	"fmt"
	"time"
)

// ResetToken is a freshly issued password reset credential. Secret goes to the
// user and is never stored; Fingerprint is what gets persisted.
type ResetToken struct {
	Secret      string
	Fingerprint string
	ExpiresAt   time.Time
}

// IssueResetToken generates a 256-bit secret and its SHA-256 fingerprint,
// expiring ttl after now.
func IssueResetToken(now time.Time, ttl time.Duration) (ResetToken, error) {
	secret, err := GenerateToken()
	if err != nil {
		return ResetToken{}, fmt.Errorf("generate reset token: %w", err)
	}

	return ResetToken{
		Secret:      secret,
		Fingerprint: ResetTokenFingerprint(secret),
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// ResetTokenFingerprint is a fast digest; the secret already has full entropy
// so a slow KDF buys nothing here.
func ResetTokenFingerprint(secret string) string {
	return HashToken(secret)
}

func MatchesResetToken(secret, fingerprint string) bool {
	return ConstantTimeEqual(ResetTokenFingerprint(secret), fingerprint)
}
