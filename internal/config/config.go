// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// OTP alphabet options.
const (
	OTPAlphabetNumeric      = "numeric"
	OTPAlphabetAlphanumeric = "alphanumeric"
)

// OTP delivery method options.
const (
	DeliveryEmail = "email"
	DeliverySMS   = "sms"
	DeliveryBoth  = "both"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the address the JSON API listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// GhostEnabled gates ghost session creation and conversion.
	GhostEnabled bool `mapstructure:"GHOST_ENABLED"`
	// GhostRole is the role label tagged onto ephemeral identities.
	GhostRole string `mapstructure:"GHOST_ROLE"`
	// GhostEmailDomain is the domain used for synthesized ghost addresses.
	GhostEmailDomain string `mapstructure:"GHOST_EMAIL_DOMAIN"`
	// GhostTTLDays is how long an unconverted ghost identity is kept. Values
	// below 1 are clamped to 1 day at use.
	GhostTTLDays int `mapstructure:"GHOST_TTL_DAYS"`
	// GhostAutoCleanup enables the periodic ghost deletion sweep.
	GhostAutoCleanup bool `mapstructure:"GHOST_AUTO_CLEANUP"`
	// DefaultRole is assigned to identities created or converted through
	// login/conversion; empty falls back to a safe built-in role.
	DefaultRole string `mapstructure:"DEFAULT_ROLE"`

	// OTPLength is the number of characters in a generated code.
	OTPLength int `mapstructure:"OTP_LENGTH"`
	// OTPAlphabet is "numeric" or "alphanumeric".
	OTPAlphabet string `mapstructure:"OTP_ALPHABET"`
	// OTPDelivery is "email", "sms", or "both".
	OTPDelivery string `mapstructure:"OTP_DELIVERY"`
	// OTPExpiryMinutes is the challenge lifetime.
	OTPExpiryMinutes int `mapstructure:"OTP_EXPIRY_MINUTES"`
	// OTPMaxPerHour caps challenges created per target per sliding hour.
	OTPMaxPerHour int `mapstructure:"OTP_MAX_PER_HOUR"`
	// OTPAllowAnonymous permits target-less verification by code+purpose only.
	OTPAllowAnonymous bool `mapstructure:"OTP_ALLOW_ANONYMOUS"`
	// OTPEnforceOnConversion requires a valid code to convert a ghost.
	OTPEnforceOnConversion bool `mapstructure:"OTP_ENFORCE_ON_CONVERSION"`

	// SandboxMode short-circuits OTP generate/verify with a fixed code.
	// Must not be enabled when Env is production.
	SandboxMode bool `mapstructure:"SANDBOX_MODE"`
	// SandboxCode is the fixed code accepted in sandbox mode.
	SandboxCode string `mapstructure:"SANDBOX_CODE"`

	// RevokeTokensOnConversion bulk-revokes a ghost's tokens at conversion.
	RevokeTokensOnConversion bool `mapstructure:"REVOKE_TOKENS_ON_CONVERSION"`
	// AccessTokenTTLSeconds is the access token lifetime; minimum 300.
	AccessTokenTTLSeconds int `mapstructure:"ACCESS_TOKEN_TTL_SECONDS"`
	// RefreshTokenTTLDays is the refresh token lifetime; minimum 1.
	RefreshTokenTTLDays int `mapstructure:"REFRESH_TOKEN_TTL_DAYS"`
	// ClientID, when set, pins token issuance to this registered client and
	// overrides any caller-supplied client ref.
	ClientID string `mapstructure:"CLIENT_ID"`
	// BcryptCost is the bcrypt cost factor for client secret hashing.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// DeliveryTimeout bounds a single delivery attempt (e.g. "5s").
	DeliveryTimeout string `mapstructure:"DELIVERY_TIMEOUT"`
	// SMTPAddr is the host:port of the SMTP relay for email delivery.
	SMTPAddr string `mapstructure:"SMTP_ADDR"`
	// SMTPFrom is the From address for OTP emails.
	SMTPFrom string `mapstructure:"SMTP_FROM"`
	// SMSAPIKey is the API key for the SMS provider.
	SMSAPIKey string `mapstructure:"SMS_API_KEY"`
	// SMSSender is the optional sender ID for SMS delivery.
	SMSSender string `mapstructure:"SMS_SENDER"`
	// SMSBaseURL is the SMS provider API base URL.
	SMSBaseURL string `mapstructure:"SMS_BASE_URL"`

	// SweepInterval is the period between cleanup sweeps (e.g. "10m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)

	v.SetDefault("GHOST_ENABLED", true)
	v.SetDefault("GHOST_ROLE", "Ghost")
	v.SetDefault("GHOST_EMAIL_DOMAIN", "guest.local")
	v.SetDefault("GHOST_TTL_DAYS", 30)
	v.SetDefault("GHOST_AUTO_CLEANUP", false)
	v.SetDefault("DEFAULT_ROLE", "Member")

	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_ALPHABET", OTPAlphabetNumeric)
	v.SetDefault("OTP_DELIVERY", DeliveryEmail)
	v.SetDefault("OTP_EXPIRY_MINUTES", 10)
	v.SetDefault("OTP_MAX_PER_HOUR", 5)
	v.SetDefault("OTP_ALLOW_ANONYMOUS", false)
	v.SetDefault("OTP_ENFORCE_ON_CONVERSION", true)

	v.SetDefault("SANDBOX_MODE", false)
	v.SetDefault("SANDBOX_CODE", "000141")

	v.SetDefault("REVOKE_TOKENS_ON_CONVERSION", true)
	v.SetDefault("ACCESS_TOKEN_TTL_SECONDS", 3600)
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 30)
	v.SetDefault("CLIENT_ID", "")
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("DELIVERY_TIMEOUT", "5s")
	v.SetDefault("SMTP_ADDR", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMS_API_KEY", "")
	v.SetDefault("SMS_SENDER", "")
	v.SetDefault("SMS_BASE_URL", "https://app.smslocal.in/api/smsapi")

	v.SetDefault("SWEEP_INTERVAL", "10m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Called by Load; exported for tests
// that build a Config directly.
func (c *Config) Validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.AccessTokenTTLSeconds < 300 {
		return fmt.Errorf("config: ACCESS_TOKEN_TTL_SECONDS must be at least 300, got %d", c.AccessTokenTTLSeconds)
	}
	if c.RefreshTokenTTLDays < 1 {
		return fmt.Errorf("config: REFRESH_TOKEN_TTL_DAYS must be at least 1, got %d", c.RefreshTokenTTLDays)
	}
	if c.OTPLength < 4 || c.OTPLength > 12 {
		return fmt.Errorf("config: OTP_LENGTH must be between 4 and 12, got %d", c.OTPLength)
	}
	switch c.OTPAlphabet {
	case OTPAlphabetNumeric, OTPAlphabetAlphanumeric:
	default:
		return fmt.Errorf("config: OTP_ALPHABET must be %q or %q, got %q", OTPAlphabetNumeric, OTPAlphabetAlphanumeric, c.OTPAlphabet)
	}
	switch c.OTPDelivery {
	case DeliveryEmail, DeliverySMS, DeliveryBoth:
	default:
		return fmt.Errorf("config: OTP_DELIVERY must be email, sms, or both, got %q", c.OTPDelivery)
	}
	if c.OTPExpiryMinutes < 1 {
		return fmt.Errorf("config: OTP_EXPIRY_MINUTES must be at least 1, got %d", c.OTPExpiryMinutes)
	}
	if c.OTPMaxPerHour < 1 {
		return fmt.Errorf("config: OTP_MAX_PER_HOUR must be at least 1, got %d", c.OTPMaxPerHour)
	}
	if c.SandboxMode && c.SandboxCode == "" {
		return errors.New("config: SANDBOX_CODE is required when SANDBOX_MODE is enabled")
	}
	if c.SandboxMode && c.Env == "production" {
		return errors.New("config: SANDBOX_MODE must not be enabled when APP_ENV=production")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("config: BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	return nil
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// RefreshTTL returns the refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

// OTPExpiry returns the challenge lifetime.
func (c *Config) OTPExpiry() time.Duration {
	return time.Duration(c.OTPExpiryMinutes) * time.Minute
}

// GhostTTL returns the ghost retention period, clamped up to 1 day so a
// misconfigured value cannot make the sweeper delete fresh identities.
func (c *Config) GhostTTL() time.Duration {
	days := c.GhostTTLDays
	if days < 1 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// DeliveryTimeoutDuration parses DeliveryTimeout. Returns 5s if unset or invalid.
func (c *Config) DeliveryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.DeliveryTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// SweepEvery parses SweepInterval. Returns 10m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}
