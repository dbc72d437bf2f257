package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/opentrusty/trustcore/internal/observability/logger"
)

// ValueField is the field under which Manager stores a secret in the backend.
const ValueField = "value"

// Manager routes named secrets to the backend when it is available and to
// the local FileStore otherwise. Backend errors fall back transparently.
type Manager struct {
	backend Backend
	local   *FileStore
	prefix  string
	logger  *slog.Logger
}

// NewManager creates a Manager. A nil backend behaves as NopBackend.
func NewManager(backend Backend, local *FileStore, prefix string, log *slog.Logger) *Manager {
	if backend == nil {
		backend = NopBackend{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		backend: backend,
		local:   local,
		prefix:  prefix,
		logger:  log.With(logger.Component("secrets_manager")),
	}
}

// Backend returns the configured backend.
func (m *Manager) Backend() Backend { return m.backend }

// Local returns the encrypted file store used as fallback.
func (m *Manager) Local() *FileStore { return m.local }

func (m *Manager) backendPath(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

func (m *Manager) fallback(ctx context.Context, op, name string, err error) {
	if errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrSecretNotFound) {
		return
	}
	m.logger.WarnContext(ctx, "secret backend failed, using local store",
		logger.Operation(op),
		logger.String("secret", name),
		logger.String("backend", m.backend.Name()),
		logger.Error(err),
	)
}

// GetSecret returns the value of name.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	data, err := m.backend.Get(ctx, m.backendPath(name))
	if err == nil {
		if v, ok := data[ValueField]; ok {
			return v, nil
		}
		err = fmt.Errorf("%w: no %q field", ErrSecretNotFound, ValueField)
	}
	m.fallback(ctx, "get", name, err)
	return m.local.Get(name)
}

// SetSecret stores value under name.
func (m *Manager) SetSecret(ctx context.Context, name, value string) error {
	err := m.backend.Put(ctx, m.backendPath(name), map[string]string{ValueField: value})
	if err == nil {
		return nil
	}
	m.fallback(ctx, "set", name, err)
	return m.local.Set(name, value)
}

// DeleteSecret removes name from the backend and from the local store.
func (m *Manager) DeleteSecret(ctx context.Context, name string) error {
	if err := m.backend.Delete(ctx, m.backendPath(name)); err != nil {
		m.fallback(ctx, "delete", name, err)
	}
	return m.local.Delete(name)
}

// ListSecrets lists names from the backend, or from the local store when
// the backend cannot answer.
func (m *Manager) ListSecrets(ctx context.Context) ([]string, error) {
	names, err := m.backend.List(ctx, m.prefix)
	if err == nil {
		return names, nil
	}
	m.fallback(ctx, "list", m.prefix, err)
	return m.local.List()
}

// DatabaseCredentials requests a dynamic database credential lease. There
// is no local equivalent.
func (m *Manager) DatabaseCredentials(ctx context.Context, role string) (*Lease, error) {
	return m.backend.DatabaseCredentials(ctx, role)
}
