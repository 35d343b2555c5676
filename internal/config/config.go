// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package config loads LAN Connect settings from defaults, an optional YAML
// file, LANCONNECT_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable the loader reads. A double
// underscore separates nesting levels: LANCONNECT_AUTH__ACCESS_SECRET sets
// auth.access_secret.
const EnvPrefix = "LANCONNECT_"

// Cache drivers.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Mail drivers.
const (
	MailSMTP = "smtp"
	MailLog  = "log"
)

// SMTP TLS modes.
const (
	MailTLSStartTLS      = "starttls"
	MailTLSOpportunistic = "opportunistic"
	MailTLSImplicit      = "implicit"
	MailTLSNone          = "none"
)

// Blacklist TTL modes.
const (
	BlacklistRemaining = "remaining"
	BlacklistFixed     = "fixed"
)

// Config is the complete service configuration.
type Config struct {
	Environment string          `koanf:"environment"`
	HTTP        HTTPConfig      `koanf:"http"`
	Metrics     MetricsConfig   `koanf:"metrics"`
	Log         LogConfig       `koanf:"log"`
	Database    DatabaseConfig  `koanf:"database"`
	Cache       CacheConfig     `koanf:"cache"`
	Auth        AuthConfig      `koanf:"auth"`
	Mail        MailConfig      `koanf:"mail"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
	Payment     PaymentConfig   `koanf:"payment"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	BasePath        string        `koanf:"base_path"`
	FrontendURL     string        `koanf:"frontend_url"`
	BodyLimit       int64         `koanf:"body_limit"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// TLSCertFile and TLSKeyFile enable HTTPS on Addr when both are set.
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
	// TLSSelfSigned serves HTTPS with a certificate generated at startup.
	// Refused in production.
	TLSSelfSigned bool `koanf:"tls_self_signed"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MaxConns       int32  `koanf:"max_conns"`
	ConnectRetries uint64 `koanf:"connect_retries"`
	AutoMigrate    bool   `koanf:"auto_migrate"`
}

// CacheConfig selects and configures the session cache.
type CacheConfig struct {
	Driver          string        `koanf:"driver"`
	RedisURL        string        `koanf:"redis_url"`
	RedisAddr       string        `koanf:"redis_addr"`
	RedisPassword   string        `koanf:"redis_password"`
	RedisDB         int           `koanf:"redis_db"`
	ConnectRetries  uint64        `koanf:"connect_retries"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AuthConfig configures tokens, password hashing and password reset.
type AuthConfig struct {
	AccessSecret          string        `koanf:"access_secret"`
	RefreshSecret         string        `koanf:"refresh_secret"`
	AccessTTL             time.Duration `koanf:"access_ttl"`
	RefreshTTL            time.Duration `koanf:"refresh_ttl"`
	Issuer                string        `koanf:"issuer"`
	ResetTokenExpiry      time.Duration `koanf:"reset_token_expiry"`
	BlacklistTTLMode      string        `koanf:"blacklist_ttl_mode"`
	BlacklistFixedTTL     time.Duration `koanf:"blacklist_fixed_ttl"`
	UniformForgotPassword bool          `koanf:"uniform_forgot_password"`
	Argon2                Argon2Config  `koanf:"argon2"`
}

// Argon2Config tunes the password hasher. Memory is in KiB.
type Argon2Config struct {
	Time    uint32 `koanf:"time"`
	Memory  uint32 `koanf:"memory"`
	Threads uint8  `koanf:"threads"`
}

// MailConfig selects and configures outgoing mail.
type MailConfig struct {
	Driver             string        `koanf:"driver"`
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	Username           string        `koanf:"username"`
	Password           string        `koanf:"password"`
	From               string        `koanf:"from"`
	TLS                string        `koanf:"tls"`
	Timeout            time.Duration `koanf:"timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

// RateLimitConfig configures the per-IP limiter.
type RateLimitConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

// PaymentConfig configures the payment providers. A provider without
// credentials is disabled.
type PaymentConfig struct {
	Mpesa  MpesaConfig  `koanf:"mpesa"`
	Stripe StripeConfig `koanf:"stripe"`
}

// MpesaConfig configures the Daraja client.
type MpesaConfig struct {
	BaseURL          string        `koanf:"base_url"`
	ConsumerKey      string        `koanf:"consumer_key"`
	ConsumerSecret   string        `koanf:"consumer_secret"`
	ShortCode        string        `koanf:"short_code"`
	PassKey          string        `koanf:"pass_key"`
	CallbackURL      string        `koanf:"callback_url"`
	TransactionType  string        `koanf:"transaction_type"`
	AccountReference string        `koanf:"account_reference"`
	Currency         string        `koanf:"currency"`
	Timeout          time.Duration `koanf:"timeout"`
}

// Enabled reports whether M-Pesa credentials are present.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != ""
}

// StripeConfig configures the Stripe client.
type StripeConfig struct {
	SecretKey     string `koanf:"secret_key"`
	WebhookSecret string `koanf:"webhook_secret"`
	// BaseURL overrides the API endpoint, for stripe-mock.
	BaseURL string `koanf:"base_url"`
}

// Enabled reports whether a Stripe secret key is present.
func (s StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: "development",
		HTTP: HTTPConfig{
			Addr:            ":5000",
			BasePath:        "/api/v1",
			FrontendURL:     "http://localhost:3000",
			BodyLimit:       10 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			ConnectRetries: 5,
		},
		Cache: CacheConfig{
			Driver:          CacheRedis,
			RedisAddr:       "localhost:6379",
			ConnectRetries:  5,
			CleanupInterval: time.Minute,
		},
		Auth: AuthConfig{
			AccessTTL:         7 * 24 * time.Hour,
			RefreshTTL:        30 * 24 * time.Hour,
			ResetTokenExpiry:  10 * time.Minute,
			BlacklistTTLMode:  BlacklistRemaining,
			BlacklistFixedTTL: 7 * 24 * time.Hour,
		},
		Mail: MailConfig{
			Driver:  MailLog,
			Port:    587,
			From:    "LAN Connect <noreply@lanconnect.local>",
			TLS:     MailTLSStartTLS,
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   15 * time.Minute,
		},
		Payment: PaymentConfig{
			Mpesa: MpesaConfig{
				BaseURL:          "https://sandbox.safaricom.co.ke",
				TransactionType:  "CustomerPayBillOnline",
				AccountReference: "LAN Connect",
				Currency:         "KES",
				Timeout:          30 * time.Second,
			},
		},
	}
}

// flagKeys maps command-line flags onto configuration keys. Flags not listed
// are ignored by the loader.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"cache-driver": "cache.driver",
	"auto-migrate": "database.auto_migrate",
	"database-url": "database.url",
}

// Load builds a Config. path names an optional YAML file; flags may be nil.
// Only flags the user actually set override earlier sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	cfg.normalize()
	return &cfg, nil
}

// envKey turns LANCONNECT_AUTH__ACCESS_SECRET into auth.access_secret.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c *Config) normalize() {
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Cache.Driver = strings.ToLower(strings.TrimSpace(c.Cache.Driver))
	c.Mail.Driver = strings.ToLower(strings.TrimSpace(c.Mail.Driver))
	c.Mail.TLS = strings.ToLower(strings.TrimSpace(c.Mail.TLS))
	c.Auth.BlacklistTTLMode = strings.ToLower(strings.TrimSpace(c.Auth.BlacklistTTLMode))
	c.HTTP.BasePath = "/" + strings.Trim(c.HTTP.BasePath, "/")
	c.HTTP.FrontendURL = strings.TrimRight(c.HTTP.FrontendURL, "/")
}

// Validate checks everything serve needs.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Auth.AccessSecret == "" {
		add("auth.access_secret is required")
	}
	if c.Auth.RefreshSecret == "" {
		add("auth.refresh_secret is required")
	}
	if c.Auth.AccessSecret != "" && c.Auth.AccessSecret == c.Auth.RefreshSecret {
		add("auth.access_secret and auth.refresh_secret must differ")
	}
	for name, d := range map[string]time.Duration{
		"auth.access_ttl":         c.Auth.AccessTTL,
		"auth.refresh_ttl":        c.Auth.RefreshTTL,
		"auth.reset_token_expiry": c.Auth.ResetTokenExpiry,
		"rate_limit.window":       c.RateLimit.Window,
		"http.shutdown_timeout":   c.HTTP.ShutdownTimeout,
	} {
		if d <= 0 {
			add("%s must be positive, got %s", name, d)
		}
	}
	switch c.Auth.BlacklistTTLMode {
	case BlacklistRemaining:
	case BlacklistFixed:
		if c.Auth.BlacklistFixedTTL <= 0 {
			add("auth.blacklist_fixed_ttl must be positive in fixed mode")
		}
	default:
		add("auth.blacklist_ttl_mode must be %q or %q, got %q", BlacklistRemaining, BlacklistFixed, c.Auth.BlacklistTTLMode)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}
	if c.HTTP.BodyLimit <= 0 {
		add("http.body_limit must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.Requests <= 0 {
		add("rate_limit.requests must be positive")
	}
	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		add("http.tls_cert_file and http.tls_key_file must be set together")
	}
	if c.HTTP.TLSSelfSigned && c.Environment == "production" {
		add("http.tls_self_signed is not allowed in production")
	}
	if _, err := url.ParseRequestURI(c.HTTP.FrontendURL); err != nil {
		add("http.frontend_url is not a valid URL: %v", err)
	}

	if err := c.ValidateDatabase(); err != nil {
		errs = append(errs, err)
	}

	switch c.Cache.Driver {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" && c.Cache.RedisAddr == "" {
			add("cache.redis_url or cache.redis_addr is required for the redis driver")
		}
	default:
		add("cache.driver must be %q or %q, got %q", CacheRedis, CacheMemory, c.Cache.Driver)
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailSMTP:
		if c.Mail.Host == "" || c.Mail.From == "" {
			add("mail.host and mail.from are required for the smtp driver")
		}
		switch c.Mail.TLS {
		case MailTLSStartTLS, MailTLSOpportunistic, MailTLSImplicit, MailTLSNone:
		default:
			add("mail.tls must be one of %q, %q, %q or %q, got %q",
				MailTLSStartTLS, MailTLSOpportunistic, MailTLSImplicit, MailTLSNone, c.Mail.TLS)
		}
	default:
		add("mail.driver must be %q or %q, got %q", MailSMTP, MailLog, c.Mail.Driver)
	}

	if m := c.Payment.Mpesa; m.Enabled() {
		if m.ConsumerSecret == "" || m.ShortCode == "" || m.PassKey == "" || m.CallbackURL == "" {
			add("payment.mpesa needs consumer_secret, short_code, pass_key and callback_url when consumer_key is set")
		}
	}
	if s := c.Payment.Stripe; s.Enabled() && s.WebhookSecret == "" {
		add("payment.stripe.webhook_secret is required when secret_key is set")
	}

	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	return nil
}

// ValidateDatabase checks the settings the migrate command needs.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	return nil
}
