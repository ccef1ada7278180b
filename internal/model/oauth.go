package model

const (
	OAuthProviderGoogle = "google"
)

// OAuthUserProfile is what a provider told us about the user after a
// successful code exchange.
type OAuthUserProfile struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
}
