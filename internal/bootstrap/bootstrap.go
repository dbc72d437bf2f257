// Package bootstrap assembles the core components from configuration for
// the command-line entry points.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/secrets"
	"github.com/opentrusty/trustcore/internal/secrets/hcvault"
	"github.com/opentrusty/trustcore/internal/store/postgres"
	"github.com/opentrusty/trustcore/internal/store/sqlite"
	"github.com/opentrusty/trustcore/internal/token"
)

// Secrets bundles the local vault and the hybrid manager.
type Secrets struct {
	Vault   *secrets.Vault
	Manager *secrets.Manager
}

// OpenSecrets opens the key file and connects to Vault when configured.
func OpenSecrets(ctx context.Context, cfg *config.Config, inst *metrics.SecurityInstruments, log *slog.Logger) (*Secrets, error) {
	v, err := secrets.Open(secrets.Config{
		KeyPath:     cfg.Secrets.KeyPath,
		Logger:      log,
		Instruments: inst,
	})
	if err != nil {
		return nil, fmt.Errorf("open secrets vault: %w", err)
	}

	backend := hcvault.New(ctx, hcvault.Config{
		Address:       cfg.Vault.Address,
		Token:         cfg.Vault.Token,
		Mount:         cfg.Vault.Mount,
		DatabaseMount: cfg.Vault.DatabaseMount,
		Timeout:       cfg.Vault.Timeout,
	}, log)

	local := secrets.NewFileStore(cfg.Secrets.StorePath, v)
	return &Secrets{
		Vault:   v,
		Manager: secrets.NewManager(backend, local, cfg.Secrets.PathPrefix, log),
	}, nil
}

// AuditStore is an opened store with its release function.
type AuditStore struct {
	audit.Store
	Close func() error
}

// OpenAuditStore opens the store selected by AUDIT_DRIVER. For postgres
// the schema is applied on open.
func OpenAuditStore(ctx context.Context, cfg *config.Config, sec *Secrets, log *slog.Logger) (*AuditStore, error) {
	switch cfg.Audit.Driver {
	case config.DriverMemory:
		return &AuditStore{Store: audit.NewMemoryStore(), Close: func() error { return nil }}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Audit.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "audit store opened", logger.Component("bootstrap"), logger.String("driver", "sqlite"), logger.Path(db.Path()))
		return &AuditStore{Store: sqlite.NewAuditRepository(db), Close: db.Close}, nil

	case config.DriverPostgres:
		pgCfg := cfg.Database.Postgres()
		if cfg.Database.VaultRole != "" {
			lease, err := sec.Manager.DatabaseCredentials(ctx, cfg.Database.VaultRole)
			if err != nil {
				return nil, fmt.Errorf("request database credentials: %w", err)
			}
			pgCfg.User, pgCfg.Password = lease.Username, lease.Password
			log.InfoContext(ctx, "using dynamic database credentials",
				logger.Component("bootstrap"),
				logger.String("lease_id", lease.LeaseID),
				logger.String("lease_duration", lease.LeaseDuration.String()),
			)
		}
		db, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.InfoContext(ctx, "audit store opened", logger.Component("bootstrap"), logger.String("driver", "postgres"), logger.String("dsn", pgCfg.Redacted()))
		return &AuditStore{Store: postgres.NewAuditRepository(db), Close: func() error { db.Close(); return nil }}, nil
	}
	return nil, fmt.Errorf("unknown audit driver %q", cfg.Audit.Driver)
}

// NewTrail builds the audit trail over store with the configured forwarder.
func NewTrail(store audit.Store, cfg *config.Config, inst *metrics.SecurityInstruments, log *slog.Logger) (*audit.Trail, error) {
	opts := []audit.Option{
		audit.WithLogger(log),
		audit.WithInstruments(inst),
		audit.WithForwardTimeout(cfg.Audit.ForwardTimeout),
	}
	if cfg.Audit.ForwardEnabled {
		fwd, err := audit.NewHTTPForwarder(audit.HTTPForwarderConfig{
			Endpoint: cfg.Audit.CollectorURL,
			Timeout:  cfg.Audit.ForwardTimeout,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, audit.WithForwarder(fwd))
	}
	return audit.New(store, opts...), nil
}

// ErrNoSigningSecret means neither TOKEN_SECRET nor the secrets store holds
// a signing key.
var ErrNoSigningSecret = errors.New("no token signing secret configured")

// SigningSecret returns TOKEN_SECRET, or the named secret from the manager.
func SigningSecret(ctx context.Context, cfg *config.Config, sec *Secrets) ([]byte, error) {
	if cfg.Token.Secret != "" {
		return []byte(cfg.Token.Secret), nil
	}
	s, err := sec.Manager.GetSecret(ctx, cfg.Token.SecretName)
	if errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, fmt.Errorf("%w: set TOKEN_SECRET or store %q with keyctl", ErrNoSigningSecret, cfg.Token.SecretName)
	}
	if err != nil {
		return nil, err
	}
	if len(s) < token.MinSecretLength {
		return nil, fmt.Errorf("%w: stored secret %q is shorter than %d bytes", token.ErrWeakSecret, cfg.Token.SecretName, token.MinSecretLength)
	}
	return []byte(s), nil
}
