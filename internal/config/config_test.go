package config

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, DriverSQLite, cfg.Audit.Driver)
	assert.Equal(t, "data/audit.db", cfg.Audit.SQLitePath)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
	assert.Equal(t, "HS256", cfg.Token.Algorithm)
	assert.Equal(t, time.Hour, cfg.Token.AccessTTL)
	assert.Equal(t, "jwt_secret", cfg.Token.SecretName)
	assert.Equal(t, "secret", cfg.Vault.Mount)
	assert.False(t, cfg.Vault.Enabled())
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("AUDIT_DRIVER", "postgres")
	t.Setenv("DB_URL", "postgres://trustcore@db/trustcore")
	t.Setenv("DB_SSL_MODE", "require")
	t.Setenv("TOKEN_ACCESS_TTL", "15m")
	t.Setenv("TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("VAULT_ADDR", "http://vault:8200")
	t.Setenv("VAULT_TOKEN", "s.token")
	t.Setenv("GATEWAY_API_KEYS_FILE", "/etc/trustcore/keys.yaml")
	t.Setenv("AUDIT_AUTHORIZATION", "true")
	t.Setenv("RATELIMIT_RPS", "2.5")
	t.Setenv("OTEL_SAMPLING_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Audit.Driver)
	assert.Equal(t, "postgres://trustcore@db/trustcore", cfg.Database.Postgres().ConnString())
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.True(t, cfg.Vault.Enabled())
	assert.Equal(t, "/etc/trustcore/keys.yaml", cfg.Gateway.APIKeysFile)
	assert.True(t, cfg.Audit.Authorization)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 0.25, cfg.Telemetry.SamplingRate)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"AUDIT_DRIVER": "mongo"}, "Driver"},
		{"short secret", map[string]string{"TOKEN_SECRET": "short"}, "Secret"},
		{"bad algorithm", map[string]string{"TOKEN_ALGORITHM": "RS256"}, "Algorithm"},
		{"postgres without credentials", map[string]string{"AUDIT_DRIVER": "postgres"}, "DB_PASSWORD"},
		{"forwarding without collector", map[string]string{"AUDIT_FORWARD_ENABLED": "true"}, "AUDIT_COLLECTOR_URL"},
		{"refresh shorter than access", map[string]string{"TOKEN_ACCESS_TTL": "48h", "TOKEN_REFRESH_TTL": "24h"}, "TOKEN_REFRESH_TTL"},
		{"vault address without token", map[string]string{"VAULT_ADDR": "http://vault:8200"}, "VAULT_TOKEN"},
		{"vault role without vault", map[string]string{"AUDIT_DRIVER": "postgres", "DB_VAULT_ROLE": "audit"}, "requires Vault"},
		{"unparsable duration", map[string]string{"SERVER_READ_TIMEOUT": "soon"}, "READ_TIMEOUT"},
		{"sampling above one", map[string]string{"OTEL_SAMPLING_RATE": "2"}, "SamplingRate"},
		{"bad trusted proxy", map[string]string{"SERVER_TRUSTED_PROXIES": "10.0.0.0/8,proxy.local"}, "TrustedProxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServerConfig_TrustedProxies(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	prefixes, err := cfg.Server.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Empty(t, prefixes)

	t.Setenv("SERVER_TRUSTED_PROXIES", "10.1.2.3/8,192.0.2.7,2001:db8::/32")
	cfg, err = Load()
	require.NoError(t, err)
	prefixes, err = cfg.Server.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}, prefixes)
}

func TestWarnings(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	w := cfg.Warnings()
	assert.Contains(t, w, "audit forwarding is disabled; events are only stored locally")
	assert.Contains(t, w, "no API keys file configured; only bearer tokens are accepted")

	cfg.Token.AccessTTL = 48 * time.Hour
	cfg.Audit.Driver = DriverMemory
	cfg.Audit.ForwardEnabled = true
	cfg.Gateway.APIKeysFile = "keys.yaml"
	w = cfg.Warnings()
	assert.Len(t, w, 2)
	assert.Contains(t, w[0], "cannot be revoked")
	assert.Contains(t, w[1], "in memory")
}
