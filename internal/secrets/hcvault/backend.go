// Package hcvault implements secrets.Backend on HashiCorp Vault: KV v2 for
// named secrets and the database engine for dynamic credentials.
package hcvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/secrets"
)

// Config holds Vault connection settings.
type Config struct {
	Address       string
	Token         string
	Mount         string // KV v2 mount, default "secret"
	DatabaseMount string // database engine mount, default "database"
	Timeout       time.Duration
}

// Error carries the failed operation and path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("vault %s on path %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotAuthenticated is returned by Connect when the token is rejected.
var ErrNotAuthenticated = errors.New("vault: client not authenticated")

// Backend talks to a Vault server.
type Backend struct {
	client  *vaultapi.Client
	mount   string
	dbMount string
	logger  *slog.Logger
}

// New returns a Vault backend, or secrets.NopBackend when Vault is not
// configured or the token cannot be verified. Callers never need to handle
// an absent Vault separately.
func New(ctx context.Context, cfg Config, log *slog.Logger) secrets.Backend {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Address == "" || cfg.Token == "" {
		log.InfoContext(ctx, "vault not configured, using local secrets only", logger.Component("hcvault"))
		return secrets.NopBackend{}
	}
	b, err := Connect(ctx, cfg, log)
	if err != nil {
		log.WarnContext(ctx, "vault unavailable, using local secrets only",
			logger.Component("hcvault"),
			logger.Error(err),
		)
		return secrets.NopBackend{}
	}
	return b
}

// Connect creates a client and verifies the token with a self lookup.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, &Error{Op: "configure", Err: apiCfg.Error}
	}
	apiCfg.Address = cfg.Address
	apiCfg.MaxRetries = 0
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	client.SetToken(cfg.Token)

	if _, err := client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return nil, &Error{Op: "authenticate", Err: fmt.Errorf("%w: %v", ErrNotAuthenticated, err)}
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	dbMount := cfg.DatabaseMount
	if dbMount == "" {
		dbMount = "database"
	}

	log.InfoContext(ctx, "connected to vault", logger.Component("hcvault"), logger.String("address", cfg.Address))
	return &Backend{
		client:  client,
		mount:   strings.Trim(mount, "/"),
		dbMount: strings.Trim(dbMount, "/"),
		logger:  log.With(logger.Component("hcvault")),
	}, nil
}

func (b *Backend) Name() string { return "vault" }

// Available reports whether Vault is initialized and unsealed.
func (b *Backend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return false
	}
	return health.Initialized && !health.Sealed
}

func (b *Backend) dataPath(path string) string {
	return fmt.Sprintf("%s/data/%s", b.mount, strings.Trim(path, "/"))
}

func (b *Backend) metadataPath(path string) string {
	return fmt.Sprintf("%s/metadata/%s", b.mount, strings.Trim(path, "/"))
}

// Get reads the latest version of a KV v2 secret.
func (b *Backend) Get(ctx context.Context, path string) (map[string]string, error) {
	full := b.dataPath(path)
	secret, err := b.client.Logical().ReadWithContext(ctx, full)
	if err != nil {
		return nil, &Error{Op: "kv_read", Path: full, Err: err}
	}
	if secret == nil || secret.Data == nil {
		return nil, &Error{Op: "kv_read", Path: full, Err: secrets.ErrSecretNotFound}
	}

	// deleted versions come back with data: null
	raw, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, &Error{Op: "kv_read", Path: full, Err: secrets.ErrSecretNotFound}
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	b.logger.DebugContext(ctx, "secret read", logger.Path(full))
	return out, nil
}

// Put writes a new version of a KV v2 secret.
func (b *Backend) Put(ctx context.Context, path string, data map[string]string) error {
	full := b.dataPath(path)
	payload := make(map[string]any, len(data))
	for k, v := range data {
		payload[k] = v
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, full, map[string]any{"data": payload}); err != nil {
		return &Error{Op: "kv_write", Path: full, Err: err}
	}
	b.logger.DebugContext(ctx, "secret written", logger.Path(full))
	return nil
}

// Delete removes a secret and all of its versions.
func (b *Backend) Delete(ctx context.Context, path string) error {
	full := b.metadataPath(path)
	if _, err := b.client.Logical().DeleteWithContext(ctx, full); err != nil {
		return &Error{Op: "kv_delete", Path: full, Err: err}
	}
	return nil
}

// List returns the keys directly under path.
func (b *Backend) List(ctx context.Context, path string) ([]string, error) {
	full := b.metadataPath(path)
	secret, err := b.client.Logical().ListWithContext(ctx, full)
	if err != nil {
		return nil, &Error{Op: "kv_list", Path: full, Err: err}
	}
	if secret == nil || secret.Data == nil {
		return []string{}, nil
	}
	keys, _ := secret.Data["keys"].([]any)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// DatabaseCredentials requests a credential lease for role from the
// database secrets engine.
func (b *Backend) DatabaseCredentials(ctx context.Context, role string) (*secrets.Lease, error) {
	full := fmt.Sprintf("%s/creds/%s", b.dbMount, role)
	secret, err := b.client.Logical().ReadWithContext(ctx, full)
	if err != nil {
		return nil, &Error{Op: "db_creds", Path: full, Err: err}
	}
	if secret == nil || secret.Data == nil {
		return nil, &Error{Op: "db_creds", Path: full, Err: secrets.ErrSecretNotFound}
	}

	username, _ := secret.Data["username"].(string)
	password, _ := secret.Data["password"].(string)
	if username == "" || password == "" {
		return nil, &Error{Op: "db_creds", Path: full, Err: errors.New("incomplete credentials")}
	}
	return &secrets.Lease{
		LeaseID:       secret.LeaseID,
		Username:      username,
		Password:      password,
		LeaseDuration: time.Duration(secret.LeaseDuration) * time.Second,
		Renewable:     secret.Renewable,
	}, nil
}
