package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Credential lifetimes
const (
	SessionTokenTTL = time.Hour
	ResetTokenTTL   = time.Hour
	OAuthStateTTL   = 10 * time.Minute
)

// Outbound email
const NotifierSendTimeout = 15 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Per-IP rate limits for unauthenticated credential endpoints
const (
	LoginRateLimit    = 10
	RegisterRateLimit = 5
	ResetRateLimit    = 5
	RateLimitWindow   = time.Minute
)

// Login attempts per submitted email, across all client IPs
const (
	LoginEmailRateLimit  = 5
	LoginEmailRateWindow = 15 * time.Minute
)
