package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/observability/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Secrets.KeyPath = filepath.Join(dir, "secrets.key")
	cfg.Secrets.StorePath = filepath.Join(dir, "secrets.json")
	cfg.Audit.SQLitePath = filepath.Join(dir, "audit.db")
	cfg.Token.Secret = ""
	return cfg
}

func TestOpenAuditStore(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Audit.Driver = driver
			sec, err := OpenSecrets(ctx, cfg, nil, logger.Discard())
			require.NoError(t, err)

			st, err := OpenAuditStore(ctx, cfg, sec, logger.Discard())
			require.NoError(t, err)
			defer st.Close()

			trail, err := NewTrail(st, cfg, nil, logger.Discard())
			require.NoError(t, err)
			_, err = trail.Record(ctx, audit.Entry{
				Type: audit.TypeSystemEvent, User: "system", Action: "startup", Resource: "server", Status: audit.StatusSuccess,
			})
			require.NoError(t, err)

			events, err := trail.Query(ctx, audit.Filter{})
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

func TestOpenAuditStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Driver = "mongo"
	_, err := OpenAuditStore(context.Background(), cfg, nil, logger.Discard())
	assert.Error(t, err)
}

func TestNewTrail_ForwardingNeedsCollector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.ForwardEnabled = true
	_, err := NewTrail(audit.NewMemoryStore(), cfg, nil, logger.Discard())
	assert.Error(t, err)

	cfg.Audit.CollectorURL = "http://collector.invalid/events"
	_, err = NewTrail(audit.NewMemoryStore(), cfg, nil, logger.Discard())
	assert.NoError(t, err)
}

func TestSigningSecret(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	sec, err := OpenSecrets(ctx, cfg, nil, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "none", sec.Manager.Backend().Name())

	_, err = SigningSecret(ctx, cfg, sec)
	assert.ErrorIs(t, err, ErrNoSigningSecret)

	require.NoError(t, sec.Manager.SetSecret(ctx, cfg.Token.SecretName, "short"))
	_, err = SigningSecret(ctx, cfg, sec)
	assert.Error(t, err)

	long := strings.Repeat("k", 48)
	require.NoError(t, sec.Manager.SetSecret(ctx, cfg.Token.SecretName, long))
	got, err := SigningSecret(ctx, cfg, sec)
	require.NoError(t, err)
	assert.Equal(t, long, string(got))

	cfg.Token.Secret = strings.Repeat("e", 32)
	got, err = SigningSecret(ctx, cfg, sec)
	require.NoError(t, err)
	assert.Equal(t, cfg.Token.Secret, string(got))
}
