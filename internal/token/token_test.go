package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-session-secret-0123456789abcdef")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(testSecret, time.Hour, WithClock(clock.Now))
	require.NoError(t, err)
	return issuer
}

func TestIssuer(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("verifies to the issuing account before expiry", func(t *testing.T) {
		clock := &fakeClock{now: start}
		issuer := newTestIssuer(t, clock)

		tok, err := issuer.Issue("acc-123")
		require.NoError(t, err)
		assert.Equal(t, start.Add(time.Hour), tok.ExpiresAt)

		clock.now = start.Add(59 * time.Minute)
		accountID, err := issuer.Verify(tok.Value)
		require.NoError(t, err)
		assert.Equal(t, "acc-123", accountID)
	})

	t.Run("fails with ErrExpired after one hour", func(t *testing.T) {
		clock := &fakeClock{now: start}
		issuer := newTestIssuer(t, clock)

		tok, err := issuer.Issue("acc-123")
		require.NoError(t, err)

		clock.now = start.Add(time.Hour + time.Second)
		_, err = issuer.Verify(tok.Value)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("any single bit flip fails with ErrInvalid", func(t *testing.T) {
		clock := &fakeClock{now: start}
		issuer := newTestIssuer(t, clock)

		tok, err := issuer.Issue("acc-123")
		require.NoError(t, err)

		raw := []byte(tok.Value)
		for i := range raw {
			for bit := 0; bit < 8; bit++ {
				tampered := make([]byte, len(raw))
				copy(tampered, raw)
				tampered[i] ^= 1 << bit

				_, err := issuer.Verify(string(tampered))
				require.ErrorIsf(t, err, ErrInvalid, "byte %d bit %d", i, bit)
			}
		}
	})

	t.Run("token signed with another key is invalid", func(t *testing.T) {
		clock := &fakeClock{now: start}
		other, err := NewIssuer([]byte("another-secret"), time.Hour, WithClock(clock.Now))
		require.NoError(t, err)

		tok, err := other.Issue("acc-123")
		require.NoError(t, err)

		_, err = newTestIssuer(t, clock).Verify(tok.Value)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("expired token with a bad signature is invalid, not expired", func(t *testing.T) {
		clock := &fakeClock{now: start}
		other, err := NewIssuer([]byte("another-secret"), time.Hour, WithClock(clock.Now))
		require.NoError(t, err)

		tok, err := other.Issue("acc-123")
		require.NoError(t, err)

		clock.now = start.Add(2 * time.Hour)
		_, err = newTestIssuer(t, clock).Verify(tok.Value)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects alg none", func(t *testing.T) {
		clock := &fakeClock{now: start}
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   "acc-123",
			IssuedAt:  jwt.NewNumericDate(start),
			ExpiresAt: jwt.NewNumericDate(start.Add(time.Hour)),
		})
		value, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = newTestIssuer(t, clock).Verify(value)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects token without expiry", func(t *testing.T) {
		clock := &fakeClock{now: start}
		noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:  issuerName,
			Subject: "acc-123",
		})
		value, err := noExp.SignedString(testSecret)
		require.NoError(t, err)

		_, err = newTestIssuer(t, clock).Verify(value)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		issuer := newTestIssuer(t, &fakeClock{now: start})
		for _, value := range []string{"", "abc", "a.b.c", "Bearer x.y.z"} {
			_, err := issuer.Verify(value)
			assert.ErrorIs(t, err, ErrInvalid, value)
		}
	})

	t.Run("refuses to issue for empty account", func(t *testing.T) {
		_, err := newTestIssuer(t, &fakeClock{now: start}).Issue("")
		assert.Error(t, err)
	})
}

func TestNewIssuer(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, err := NewIssuer(nil, time.Hour)
		assert.Error(t, err)
	})

	t.Run("requires positive ttl", func(t *testing.T) {
		_, err := NewIssuer(testSecret, 0)
		assert.Error(t, err)
	})

	t.Run("copies the secret", func(t *testing.T) {
		secret := []byte("mutable-secret")
		issuer, err := NewIssuer(secret, time.Hour)
		require.NoError(t, err)

		tok, err := issuer.Issue("acc-1")
		require.NoError(t, err)

		secret[0] = 'X'
		accountID, err := issuer.Verify(tok.Value)
		require.NoError(t, err)
		assert.Equal(t, "acc-1", accountID)
	})
}
