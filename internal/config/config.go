package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "HarvestLoop"
	defaultAppEnv         = "development"
	defaultPort           = "3000"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultTokenTTL       = time.Hour
	defaultOTPTTL         = 5 * time.Minute
	defaultOTPMaxAttempts = 3
	defaultExternalTO     = 5 * time.Second
	defaultExpirySweep    = time.Hour
	defaultLoginPerMinute = 5
	defaultOTPPerMinute   = 3
	defaultCurrency       = "INR"

	// DefaultJWTSecret is the development fallback signing secret. Deployments
	// that keep it can have their tokens forged by anyone who reads this file.
	DefaultJWTSecret = "your-secret-key"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	OTPTTL         time.Duration
	OTPMaxAttempts int
	// OTPExposeCode returns generated codes in API responses. Never allowed in production.
	OTPExposeCode bool

	LoginRateLimit int
	OTPRateLimit   int

	ExternalTimeout time.Duration
	ExpirySweep     time.Duration

	SMS     SMSConfig
	Email   EmailConfig
	Payment PaymentConfig
}

// SMSConfig holds Twilio credentials. All three must be present to deliver SMS.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// Enabled reports whether real SMS delivery is configured.
func (s SMSConfig) Enabled() bool {
	return s.AccountSID != "" && s.AuthToken != "" && s.FromNumber != ""
}

// EmailConfig holds SMTP settings. OAuth fields switch SMTP auth to XOAUTH2 (Gmail).
type EmailConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	From         string
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
}

// Enabled reports whether real email delivery is configured.
func (e EmailConfig) Enabled() bool {
	if e.Host == "" || e.Username == "" {
		return false
	}
	return e.Password != "" || e.OAuthEnabled()
}

// OAuthEnabled reports whether the Gmail OAuth2 refresh-token flow is configured.
func (e EmailConfig) OAuthEnabled() bool {
	return e.ClientID != "" && e.ClientSecret != "" && e.RefreshToken != ""
}

// PaymentConfig holds Razorpay credentials.
type PaymentConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Currency  string
}

// Enabled reports whether the payment provider is configured.
func (p PaymentConfig) Enabled() bool {
	return p.KeyID != "" && p.KeySecret != ""
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      getEnv("JWT_SECRET", DefaultJWTSecret),
		SMS: SMSConfig{
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
			BaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		},
		Email: EmailConfig{
			Host:         os.Getenv("SMTP_HOST"),
			Port:         getEnv("SMTP_PORT", "587"),
			Username:     os.Getenv("EMAIL_USER"),
			Password:     os.Getenv("SMTP_PASSWORD"),
			From:         os.Getenv("EMAIL_FROM"),
			ClientID:     os.Getenv("GMAIL_CLIENT_ID"),
			ClientSecret: os.Getenv("GMAIL_CLIENT_SECRET"),
			RefreshToken: os.Getenv("GMAIL_REFRESH_TOKEN"),
			TokenURL:     getEnv("GMAIL_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		},
		Payment: PaymentConfig{
			KeyID:     os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
			BaseURL:   getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			Currency:  getEnv("PAYMENT_CURRENCY", defaultCurrency),
		},
	}
	if cfg.Email.OAuthEnabled() && cfg.Email.Host == "" {
		cfg.Email.Host = "smtp.gmail.com"
	}
	if cfg.Email.From == "" {
		cfg.Email.From = cfg.Email.Username
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", defaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL, err = durationEnv("OTP_TTL", defaultOTPTTL); err != nil {
		return Config{}, err
	}
	if cfg.ExternalTimeout, err = durationEnv("EXTERNAL_TIMEOUT", defaultExternalTO); err != nil {
		return Config{}, err
	}
	if cfg.ExpirySweep, err = durationEnv("SUBSCRIPTION_EXPIRY_SWEEP", defaultExpirySweep); err != nil {
		return Config{}, err
	}
	if cfg.OTPMaxAttempts, err = intEnv("OTP_MAX_ATTEMPTS", defaultOTPMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = intEnv("LOGIN_RATE_LIMIT_PER_MINUTE", defaultLoginPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.OTPRateLimit, err = intEnv("OTP_RATE_LIMIT_PER_MINUTE", defaultOTPPerMinute); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("OTP_EXPOSE_CODE"); v != "" {
		expose, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OTP_EXPOSE_CODE: %w", err)
		}
		cfg.OTPExposeCode = expose
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the deployed posture for every environment that is not
// development: real backends, a real signing secret, a real payment provider,
// and no OTP codes in responses.
func (c Config) Validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be changed from the default when APP_ENV=%s", c.AppEnv)
	}
	if c.OTPExposeCode {
		return fmt.Errorf("OTP_EXPOSE_CODE cannot be enabled when APP_ENV=%s", c.AppEnv)
	}
	if !c.Payment.Enabled() {
		return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// Warnings lists risky settings that are tolerated outside production.
func (c Config) Warnings() []string {
	var warnings []string
	if c.JWTSecret == DefaultJWTSecret {
		warnings = append(warnings, "JWT_SECRET is the built-in default; tokens can be forged")
	}
	if c.OTPExposeCode {
		warnings = append(warnings, "OTP_EXPOSE_CODE is enabled; OTP codes are returned to callers")
	}
	if !c.SMS.Enabled() {
		warnings = append(warnings, "Twilio not fully configured; SMS codes are logged, not delivered")
	}
	if !c.Email.Enabled() {
		warnings = append(warnings, "SMTP not configured; email codes are logged, not delivered")
	}
	if !c.Payment.Enabled() {
		warnings = append(warnings, "Razorpay not configured; using the static development gateway")
	}
	return warnings
}

// IsDev reports whether the application runs in a local development posture.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY_SECONDS as whole seconds, falling back to KEY as a Go duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
