package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env       string `env:"ENV" envDefault:"production"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	Logs      LogConfig
	DB        PostgresConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Quota     QuotaConfig
	Stripe    StripeConfig
	LLM       LLMConfig
	Reference ReferenceConfig
}

type LogConfig struct {
	Format string `env:"LOG_FORMAT" envDefault:"console"` // console or json
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
}

// PostgresConfig addresses the relational store. DATABASE_URL wins; the
// POSTGRES_* pieces are kept for existing deployments.
type PostgresConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Username    string `env:"POSTGRES_USER"`
	Password    string `env:"POSTGRES_PWD"`
	URL         string `env:"POSTGRES_URL"`
	Port        string `env:"POSTGRES_PORT" envDefault:"5432"`
	Name        string `env:"POSTGRES_DB"`
	SSLMode     string `env:"POSTGRES_SSLMODE" envDefault:"require"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type AuthConfig struct {
	Issuer   string `env:"AUTH_ISSUER"`
	Audience string `env:"AUTH_AUDIENCE"`
	JWKSURL  string `env:"AUTH_JWKS_URL"`
	Disabled bool   `env:"AUTH_DISABLED" envDefault:"false"`

	// RequiredScopes must all be granted to the access token.
	RequiredScopes []string `env:"AUTH_REQUIRED_SCOPES" envSeparator:","`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://wmhelper.com,https://www.wmhelper.com,http://localhost:5173"`
}

// QuotaConfig is the tier limit table plus the policy knobs of the quota
// engine.
type QuotaConfig struct {
	FreeDaily    int    `env:"QUOTA_FREE_DAILY" envDefault:"2"`
	FreeMonthly  int    `env:"QUOTA_FREE_MONTHLY" envDefault:"6"`
	BasicDaily   int    `env:"QUOTA_BASIC_DAILY" envDefault:"10"`
	BasicMonthly int    `env:"QUOTA_BASIC_MONTHLY" envDefault:"100"`
	ProDaily     int    `env:"QUOTA_PRO_DAILY" envDefault:"50"`
	ProMonthly   int    `env:"QUOTA_PRO_MONTHLY" envDefault:"500"`
	Timezone     string `env:"QUOTA_TIMEZONE" envDefault:"Local"`
	FailOpen     bool   `env:"QUOTA_FAIL_OPEN" envDefault:"false"`
	Atomic       bool   `env:"QUOTA_ATOMIC" envDefault:"true"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceIDBasic  string `env:"STRIPE_BASIC_PRICE_ID"`
	PriceIDPro    string `env:"STRIPE_PRO_PRICE_ID"`
	FrontendURL   string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
}

type LLMConfig struct {
	APIKey          string        `env:"LLM_API_KEY"`
	BaseURL         string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model           string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens       int           `env:"LLM_MAX_TOKENS" envDefault:"1500"`
	Timeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	HistoryMessages int           `env:"LLM_HISTORY_MESSAGES" envDefault:"10"`
}

// ReferenceConfig locates the two reference documents. Each URI is a local
// path or s3://bucket/key.
type ReferenceConfig struct {
	CurrentURI string `env:"REFERENCE_CURRENT_URI" envDefault:"data/mass_wm_laws.txt"`
	LegacyURI  string `env:"REFERENCE_LEGACY_URI" envDefault:"data/legacy_reference.txt"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Logs.Format = strings.ToLower(strings.TrimSpace(cfg.Logs.Format))
	cfg.Logs.Level = strings.ToLower(strings.TrimSpace(cfg.Logs.Level))
	cfg.Stripe.FrontendURL = strings.TrimRight(cfg.Stripe.FrontendURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Logs.Format != "console" && c.Logs.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.Logs.Format)
	}
	if c.DB.DSN() == "" {
		return errors.New("DATABASE_URL or POSTGRES_URL must be set")
	}
	limits := map[string]int{
		"QUOTA_FREE_DAILY":    c.Quota.FreeDaily,
		"QUOTA_FREE_MONTHLY":  c.Quota.FreeMonthly,
		"QUOTA_BASIC_DAILY":   c.Quota.BasicDaily,
		"QUOTA_BASIC_MONTHLY": c.Quota.BasicMonthly,
		"QUOTA_PRO_DAILY":     c.Quota.ProDaily,
		"QUOTA_PRO_MONTHLY":   c.Quota.ProMonthly,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be positive")
	}
	if !c.Auth.Disabled && c.Auth.Issuer == "" {
		return errors.New("AUTH_ISSUER must be set unless AUTH_DISABLED=true")
	}
	return nil
}

// storeLockMargin is added to LLM_TIMEOUT for the SQLite busy timeout.
const storeLockMargin = 30 * time.Second

// StoreBusyTimeout is how long a SQLite writer waits for the write lock.
// Quota admission holds that lock for up to LLM_TIMEOUT, so other users'
// writes must be able to wait longer than that.
func (c *Config) StoreBusyTimeout() time.Duration {
	return c.LLM.Timeout + storeLockMargin
}

// LocalDev reports whether the process runs on a developer machine.
func (c *Config) LocalDev() bool {
	return strings.EqualFold(c.Env, "local")
}

// AuthBypass reports whether requests skip token verification. Only honoured
// for local development.
func (c *Config) AuthBypass() bool {
	return c.Auth.Disabled && c.LocalDev()
}

// DSN returns the store address, building a postgres URL from the
// POSTGRES_* pieces when DATABASE_URL is empty.
func (p PostgresConfig) DSN() string {
	if p.DatabaseURL != "" {
		return p.DatabaseURL
	}
	if p.URL == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.Username, p.Password),
		Host:   p.URL + ":" + p.Port,
		Path:   "/" + p.Name,
	}
	q := u.Query()
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Location resolves QUOTA_TIMEZONE. Quota windows are calendar days and
// months in this location.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || strings.EqualFold(q.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(q.Timezone)
}
