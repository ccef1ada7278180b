package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Environment        string   `env:"APP_ENV" envDefault:"development"`
	Port               int      `env:"PORT" envDefault:"8080"`
	DatabaseURL        string   `env:"DATABASE_URL,required"`
	RedisURL           string   `env:"REDIS_URL"`
	SessionSecret      string   `env:"SESSION_SECRET,required"`
	BcryptCost         int      `env:"BCRYPT_COST" envDefault:"10"`
	AppBaseURL         string   `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	StaticDir          string   `env:"STATIC_DIR" envDefault:"static"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	AutoMigrate        bool     `env:"AUTO_MIGRATE" envDefault:"true"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"465"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	OAuthRedirectBase  string `env:"OAUTH_REDIRECT_BASE"`
}

// IsProduction also recognises a Fly.io deployment, which sets FLY_APP_NAME.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || os.Getenv("FLY_APP_NAME") != ""
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ResetLinkBase is the page the password reset email points at.
func (c *Config) ResetLinkBase() string {
	return strings.TrimRight(c.AppBaseURL, "/") + "/reset-password"
}

func (c *Config) OAuthRedirectURL(provider string) string {
	base := c.OAuthRedirectBase
	if base == "" {
		base = c.AppBaseURL
	}
	return strings.TrimRight(base, "/") + "/api/auth/oauth/" + provider + "/callback"
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if isProduction {
		if err := validateSecret("SESSION_SECRET", c.SessionSecret); err != nil {
			return err
		}

		if !c.SMTPEnabled() {
			log.Warn().Msg("SMTP_HOST is empty in production: password reset emails will only be logged")
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: rate limits are per-instance only")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
