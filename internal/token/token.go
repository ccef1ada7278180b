// Package token issues and verifies the signed session tokens handed out on
// login. Tokens are HS256 JWTs carrying only the account id and timestamps;
// nothing about them is persisted.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuerName = "auth-server"

var (
	ErrInvalid = errors.New("invalid session token")
	ErrExpired = errors.New("session token expired")
)

// Token is a signed session token and the moment it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Issuer)

// WithClock overrides time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(secret []byte, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if ttl <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	i := &Issuer{secret: key, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) Issue(accountID string) (Token, error) {
	if accountID == "" {
		return Token{}, errors.New("token: empty account id")
	}

	// JWT timestamps have second precision
	now := i.now().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    issuerName,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session token: %w", err)
	}

	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify returns the account id the token was issued for. It fails with
// ErrExpired for a correctly signed token past its expiry and ErrInvalid for
// everything else.
func (i *Issuer) Verify(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		// jwt checks the signature before claims, so an expired error implies
		// the signature was good.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", ErrExpired
		}
		return "", ErrInvalid
	}

	if claims.Subject == "" {
		return "", ErrInvalid
	}

	return claims.Subject, nil
}
