// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package config loads server configuration from a YAML file, the
// environment, and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/xdg"
)

// Environment variables that carry secrets. Secrets have no flags so they
// never show up in process listings.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvTokenSecret = "MEDAUTH_TOKEN_SECRET"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete server configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Tokens   TokensConfig   `koanf:"tokens"`
	Reset    ResetConfig    `koanf:"reset"`
	Login    LoginConfig    `koanf:"login"`
	Sessions SessionsConfig `koanf:"sessions"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig selects the log encoding.
type LogConfig struct {
	Format string `koanf:"format"`
}

// DatabaseConfig selects and locates the storage backend.
type DatabaseConfig struct {
	Driver      string `koanf:"driver"`
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// TokensConfig configures token signing and lifetimes.
type TokensConfig struct {
	Secret     string        `koanf:"secret"`
	Issuer     string        `koanf:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
}

// ResetConfig configures password reset requests.
type ResetConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// LoginConfig configures failed-login lockout.
type LoginConfig struct {
	LockoutThreshold int           `koanf:"lockout_threshold"`
	LockoutDuration  time.Duration `koanf:"lockout_duration"`
}

// SessionsConfig configures the session registry.
type SessionsConfig struct {
	MaxPerUser    int           `koanf:"max_per_user"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8080"},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:      LogConfig{Format: "json"},
		Database: DatabaseConfig{Driver: DriverPostgres},
		Tokens: TokensConfig{
			Issuer:     "medauth",
			AccessTTL:  auth.DefaultAccessTTL,
			RefreshTTL: auth.DefaultRefreshTTL,
		},
		Reset: ResetConfig{TTL: auth.DefaultResetTokenExpiry},
		Login: LoginConfig{
			LockoutThreshold: auth.DefaultLockoutThreshold,
			LockoutDuration:  auth.DefaultLockoutDuration,
		},
		Sessions: SessionsConfig{PurgeInterval: 10 * time.Minute},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":              "http.addr",
	"metrics-addr":           "metrics.addr",
	"log-format":             "log.format",
	"db-driver":              "database.driver",
	"auto-migrate":           "database.auto_migrate",
	"token-issuer":           "tokens.issuer",
	"access-ttl":             "tokens.access_ttl",
	"refresh-ttl":            "tokens.refresh_ttl",
	"reset-ttl":              "reset.ttl",
	"lockout-threshold":      "login.lockout_threshold",
	"lockout-duration":       "login.lockout_duration",
	"max-sessions-per-user":  "sessions.max_per_user",
	"session-purge-interval": "sessions.purge_interval",
}

// RegisterFlags adds the overridable settings to fs with their defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("db-driver", d.Database.Driver, "storage backend (postgres, memory)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("token-issuer", d.Tokens.Issuer, "issuer claim of signed tokens")
	fs.Duration("access-ttl", d.Tokens.AccessTTL, "access token lifetime")
	fs.Duration("refresh-ttl", d.Tokens.RefreshTTL, "refresh token and session lifetime")
	fs.Duration("reset-ttl", d.Reset.TTL, "password reset token lifetime")
	fs.Int("lockout-threshold", d.Login.LockoutThreshold, "consecutive login failures before lockout")
	fs.Duration("lockout-duration", d.Login.LockoutDuration, "how long a locked identifier stays locked")
	fs.Int("max-sessions-per-user", d.Sessions.MaxPerUser, "live sessions per user (0 = unlimited)")
	fs.Duration("session-purge-interval", d.Sessions.PurgeInterval, "how often expired sessions are purged")
}

// Options controls where Load reads from.
type Options struct {
	// File is an explicit config path. It must exist when set. When empty
	// the XDG default is read if present.
	File string
	// Flags are overlaid last. Only flags the user changed override the file.
	Flags *pflag.FlagSet
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds a validated Config from defaults, the config file, the
// environment, and changed flags.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	path, required := opts.File, true
	if path == "" {
		required = false
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
			}
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for env, key := range map[string]string{EnvDatabaseURL: "database.url", EnvTokenSecret: "tokens.secret"} {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}
	switch {
	case c.HTTP.Addr == "":
		return invalid("http.addr", "http.addr is required")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	case c.Database.Driver != DriverPostgres && c.Database.Driver != DriverMemory:
		return invalid("database.driver", "database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	case c.Database.Driver == DriverPostgres && c.Database.URL == "":
		return invalid("database.url", "database.url is required for the postgres driver (set %s)", EnvDatabaseURL)
	case len(c.Tokens.Secret) < 32:
		return invalid("tokens.secret", "tokens.secret must be at least 32 bytes (set %s)", EnvTokenSecret)
	case c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0:
		return invalid("tokens", "token lifetimes must be positive")
	case c.Tokens.AccessTTL >= c.Tokens.RefreshTTL:
		return invalid("tokens.access_ttl", "access_ttl (%s) must be shorter than refresh_ttl (%s)", c.Tokens.AccessTTL, c.Tokens.RefreshTTL)
	case c.Reset.TTL <= 0:
		return invalid("reset.ttl", "reset.ttl must be positive")
	case c.Login.LockoutThreshold < 1:
		return invalid("login.lockout_threshold", "login.lockout_threshold must be at least 1")
	case c.Login.LockoutDuration <= 0:
		return invalid("login.lockout_duration", "login.lockout_duration must be positive")
	case c.Sessions.MaxPerUser < 0:
		return invalid("sessions.max_per_user", "sessions.max_per_user must not be negative")
	case c.Sessions.PurgeInterval <= 0:
		return invalid("sessions.purge_interval", "sessions.purge_interval must be positive")
	}
	return nil
}

// TokenConfig converts the token settings for auth.NewTokenService.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     []byte(c.Tokens.Secret),
		Issuer:     c.Tokens.Issuer,
		AccessTTL:  c.Tokens.AccessTTL,
		RefreshTTL: c.Tokens.RefreshTTL,
	}
}

// SessionConfig converts the session settings for auth.NewSessionRegistry.
// Sessions live as long as their refresh token.
func (c *Config) SessionConfig() auth.SessionConfig {
	return auth.SessionConfig{TTL: c.Tokens.RefreshTTL, MaxPerUser: c.Sessions.MaxPerUser}
}

// LimiterConfig converts the lockout settings for auth.NewLoginLimiter.
func (c *Config) LimiterConfig() auth.LimiterConfig {
	return auth.LimiterConfig{
		LockoutThreshold: c.Login.LockoutThreshold,
		LockoutDuration:  c.Login.LockoutDuration,
	}
}
