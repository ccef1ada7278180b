package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formauth/auth-server-go/internal/token"
)

func newTestIssuer(t *testing.T, now func() time.Time) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer([]byte("middleware-test-secret-0123456789"), time.Hour, token.WithClock(now))
	require.NoError(t, err)
	return issuer
}

func TestAuthMiddleware(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	issuer := newTestIssuer(t, clock)

	var reached bool
	var gotID string
	handler := NewAuthMiddleware(issuer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		gotID = GetAccountID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(header string) *httptest.ResponseRecorder {
		reached, gotID = false, ""
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	valid, err := issuer.Issue("acc-1")
	require.NoError(t, err)

	t.Run("valid token reaches handler", func(t *testing.T) {
		rec := serve("Bearer " + valid.Value)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, reached)
		assert.Equal(t, "acc-1", gotID)
	})

	t.Run("scheme is case-insensitive", func(t *testing.T) {
		rec := serve("bearer " + valid.Value)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"wrong scheme", "Basic " + valid.Value, "UNAUTHORIZED"},
		{"empty bearer", "Bearer ", "UNAUTHORIZED"},
		{"garbage token", "Bearer not-a-token", "INVALID_TOKEN"},
		{"tampered token", "Bearer " + valid.Value + "x", "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, reached)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body["code"])
		})
	}

	t.Run("expired token", func(t *testing.T) {
		later := newTestIssuer(t, func() time.Time { return now.Add(time.Hour + time.Second) })
		expiredHandler := NewAuthMiddleware(later).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+valid.Value)
		rec := httptest.NewRecorder()
		expiredHandler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "TOKEN_EXPIRED")
	})
}

func TestGetAccountID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetAccountID(req.Context()))
}
