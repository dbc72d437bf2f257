// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/opentrusty/trustcore/internal/store/postgres"
)

// Audit store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Audit     AuditConfig     `envconfig:"AUDIT"`
	Database  DatabaseConfig  `envconfig:"DB"`
	Token     TokenConfig     `envconfig:"TOKEN"`
	Secrets   SecretsConfig   `envconfig:"SECRETS"`
	Vault     VaultConfig     `envconfig:"VAULT"`
	Gateway   GatewayConfig   `envconfig:"GATEWAY"`
	Log       LogConfig       `envconfig:"LOG"`
	Telemetry TelemetryConfig `envconfig:"OTEL"`
	RateLimit RateLimitConfig `envconfig:"RATELIMIT"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `split_words:"true" default:"0.0.0.0"`
	Port            string        `split_words:"true" default:"8080" validate:"required,numeric"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `split_words:"true" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `split_words:"true" default:"60s" validate:"gt=0"`
	RequestTimeout  time.Duration `split_words:"true" default:"60s" validate:"gt=0"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s" validate:"gt=0"`
	// TrustedProxies are CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// peer address is always the client address.
	TrustedProxies []string `split_words:"true" validate:"dive,cidr|ip"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, v := range s.TrustedProxies {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AuditConfig selects the audit store and the optional collector.
type AuditConfig struct {
	Driver         string        `split_words:"true" default:"sqlite" validate:"oneof=sqlite postgres memory"`
	SQLitePath     string        `envconfig:"SQLITE_PATH" default:"data/audit.db"`
	ForwardEnabled bool          `split_words:"true" default:"false"`
	CollectorURL   string        `split_words:"true" validate:"omitempty,url"`
	ForwardTimeout time.Duration `split_words:"true" default:"5s" validate:"gt=0"`
	RetentionDays  int           `split_words:"true" default:"365" validate:"gte=1"`
	Authorization  bool          `split_words:"true" default:"false"`
}

// DatabaseConfig holds PostgreSQL settings for the postgres audit driver.
type DatabaseConfig struct {
	URL          string `split_words:"true"`
	Host         string `split_words:"true" default:"localhost"`
	Port         string `split_words:"true" default:"5432"`
	User         string `split_words:"true" default:"trustcore"`
	Password     string `split_words:"true"`
	Name         string `split_words:"true" default:"trustcore"`
	SSLMode      string `split_words:"true" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns int    `split_words:"true" default:"25" validate:"gte=1"`
	MaxIdleConns int    `split_words:"true" default:"5" validate:"gte=0"`
	// VaultRole, when set, requests short-lived credentials from the
	// Vault database engine instead of using User and Password.
	VaultRole string `split_words:"true"`
}

// Postgres converts the settings for the postgres store.
func (d DatabaseConfig) Postgres() postgres.Config {
	return postgres.Config{
		URL:          d.URL,
		Host:         d.Host,
		Port:         d.Port,
		User:         d.User,
		Password:     d.Password,
		Database:     d.Name,
		SSLMode:      d.SSLMode,
		MaxOpenConns: d.MaxOpenConns,
		MaxIdleConns: d.MaxIdleConns,
	}
}

// TokenConfig holds token signing settings. An empty Secret is resolved
// from the secrets manager under SecretName.
type TokenConfig struct {
	Secret     string        `split_words:"true" validate:"omitempty,min=32"`
	SecretName string        `split_words:"true" default:"jwt_secret"`
	Algorithm  string        `split_words:"true" default:"HS256" validate:"oneof=HS256 HS384 HS512"`
	AccessTTL  time.Duration `split_words:"true" default:"1h" validate:"gt=0"`
	RefreshTTL time.Duration `split_words:"true" default:"720h" validate:"gt=0"`
}

// SecretsConfig locates the local key file and encrypted secrets file.
type SecretsConfig struct {
	KeyPath    string `split_words:"true" default:"data/secrets.key" validate:"required"`
	StorePath  string `split_words:"true" default:"data/secrets.json" validate:"required"`
	PathPrefix string `split_words:"true" default:"trustcore"`
}

// VaultConfig holds HashiCorp Vault settings. Vault is used only when both
// Address and Token are set.
type VaultConfig struct {
	Address       string        `envconfig:"ADDR" validate:"omitempty,url"`
	Token         string        `split_words:"true"`
	Mount         string        `split_words:"true" default:"secret"`
	DatabaseMount string        `split_words:"true" default:"database"`
	Timeout       time.Duration `split_words:"true" default:"5s" validate:"gt=0"`
}

// Enabled reports whether Vault is configured.
func (v VaultConfig) Enabled() bool {
	return v.Address != "" && v.Token != ""
}

// GatewayConfig configures the access gateway.
type GatewayConfig struct {
	APIKeysFile string `split_words:"true"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `split_words:"true" default:"info" validate:"oneof=debug info warn error"`
	Format string `split_words:"true" default:"json" validate:"oneof=json text"`
}

// TelemetryConfig holds tracing and metrics configuration
type TelemetryConfig struct {
	Enabled        bool    `split_words:"true" default:"false"`
	MetricsEnabled bool    `split_words:"true" default:"false"`
	ServiceName    string  `split_words:"true" default:"trustcore"`
	ServiceVersion string  `split_words:"true" default:"0.1.0"`
	SamplingRate   float64 `split_words:"true" default:"1" validate:"gte=0,lte=1"`
	Endpoint       string  `split_words:"true"`
	Insecure       bool    `split_words:"true" default:"false"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `split_words:"true" default:"true"`
	RequestsPerSecond float64 `envconfig:"RPS" default:"10" validate:"gt=0"`
	Burst             int     `split_words:"true" default:"20" validate:"gte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Audit.Driver == DriverSQLite && c.Audit.SQLitePath == "" {
		return errors.New("AUDIT_SQLITE_PATH is required for the sqlite audit driver")
	}
	if c.Audit.Driver == DriverPostgres && c.Database.URL == "" &&
		c.Database.Password == "" && c.Database.VaultRole == "" {
		return errors.New("DB_PASSWORD, DB_URL or DB_VAULT_ROLE is required for the postgres audit driver")
	}
	if c.Audit.ForwardEnabled && c.Audit.CollectorURL == "" {
		return errors.New("AUDIT_COLLECTOR_URL is required when forwarding is enabled")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("TOKEN_REFRESH_TTL must be longer than TOKEN_ACCESS_TTL")
	}
	if (c.Vault.Address == "") != (c.Vault.Token == "") {
		return errors.New("VAULT_ADDR and VAULT_TOKEN must be set together")
	}
	if c.Database.VaultRole != "" && !c.Vault.Enabled() {
		return errors.New("DB_VAULT_ROLE requires Vault")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return fmt.Errorf("SERVER_TRUSTED_PROXIES: %w", err)
	}
	return nil
}

// Warnings lists settings that are valid but inadvisable.
func (c *Config) Warnings() []string {
	var w []string
	if c.Token.AccessTTL > 24*time.Hour {
		w = append(w, fmt.Sprintf("TOKEN_ACCESS_TTL of %s is long; tokens cannot be revoked before expiry", c.Token.AccessTTL))
	}
	if c.Audit.Driver == DriverMemory {
		w = append(w, "audit events are kept in memory and lost on restart")
	}
	if !c.Audit.ForwardEnabled {
		w = append(w, "audit forwarding is disabled; events are only stored locally")
	}
	if c.Token.Secret != "" {
		w = append(w, "TOKEN_SECRET is set in the environment; prefer storing it with keyctl")
	}
	if c.Gateway.APIKeysFile == "" {
		w = append(w, "no API keys file configured; only bearer tokens are accepted")
	}
	if !c.RateLimit.Enabled {
		w = append(w, "rate limiting is disabled")
	}
	return w
}
