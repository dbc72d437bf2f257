package hcvault

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/secrets"
)

const testToken = "s.test-token"

// fakeVault serves the subset of the Vault HTTP API used by Backend.
type fakeVault struct {
	mu   sync.Mutex
	kv   map[string]map[string]any
	seal bool
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	t.Helper()
	fv := &fakeVault{kv: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(fv.serve))
	t.Cleanup(srv.Close)
	return fv, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeVault) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v1/sys/health" {
		writeJSON(w, http.StatusOK, map[string]any{"initialized": true, "sealed": f.seal, "standby": false})
		return
	}
	if r.Header.Get("X-Vault-Token") != testToken {
		writeJSON(w, http.StatusForbidden, map[string]any{"errors": []string{"permission denied"}})
		return
	}

	switch {
	case r.URL.Path == "/v1/auth/token/lookup-self":
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": testToken, "ttl": 3600}})

	case r.URL.Path == "/v1/database/creds/readonly":
		writeJSON(w, http.StatusOK, map[string]any{
			"lease_id":       "database/creds/readonly/abc",
			"lease_duration": 3600,
			"renewable":      true,
			"data":           map[string]any{"username": "v-readonly-xyz", "password": "A1a-generated"},
		})

	case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/"):
		key := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
		if r.Method == "LIST" || r.URL.Query().Get("list") == "true" {
			var keys []string
			for k := range f.kv {
				if name, ok := strings.CutPrefix(k, strings.TrimSuffix(key, "/")+"/"); ok {
					keys = append(keys, name)
				}
			}
			if len(keys) == 0 {
				writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"keys": keys}})
			return
		}
		if r.Method == http.MethodDelete {
			delete(f.kv, key)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)

	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		key := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		switch r.Method {
		case http.MethodGet:
			data, ok := f.kv[key]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"data":     data,
				"metadata": map[string]any{"version": 1},
			}})
		case http.MethodPut, http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var req struct {
				Data map[string]any `json:"data"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
				return
			}
			f.kv[key] = req.Data
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"version": 1}})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{}})
	}
}

func TestNew_FallsBackWhenUnconfigured(t *testing.T) {
	b := New(context.Background(), Config{}, logger.Discard())
	assert.IsType(t, secrets.NopBackend{}, b)
	assert.False(t, b.Available(context.Background()))
}

func TestNew_FallsBackOnBadToken(t *testing.T) {
	_, srv := newFakeVault(t)

	b := New(context.Background(), Config{Address: srv.URL, Token: "wrong", Timeout: time.Second}, logger.Discard())
	assert.IsType(t, secrets.NopBackend{}, b)

	_, err := Connect(context.Background(), Config{Address: srv.URL, Token: "wrong"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestNew_FallsBackWhenUnreachable(t *testing.T) {
	b := New(context.Background(), Config{Address: "http://127.0.0.1:1", Token: testToken, Timeout: time.Second}, logger.Discard())
	assert.IsType(t, secrets.NopBackend{}, b)
}

func TestBackend_KVRoundTrip(t *testing.T) {
	fv, srv := newFakeVault(t)
	ctx := context.Background()

	b, err := Connect(ctx, Config{Address: srv.URL, Token: testToken}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "vault", b.Name())
	assert.True(t, b.Available(ctx))

	require.NoError(t, b.Put(ctx, "trustcore/jwt_secret", map[string]string{"value": "s3cr3t"}))
	got, err := b.Get(ctx, "trustcore/jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"value": "s3cr3t"}, got)

	names, err := b.List(ctx, "trustcore")
	require.NoError(t, err)
	assert.Equal(t, []string{"jwt_secret"}, names)

	require.NoError(t, b.Delete(ctx, "trustcore/jwt_secret"))
	_, err = b.Get(ctx, "trustcore/jwt_secret")
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)

	var vErr *Error
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "kv_read", vErr.Op)

	fv.mu.Lock()
	fv.seal = true
	fv.mu.Unlock()
	assert.False(t, b.Available(ctx))
}

func TestBackend_DatabaseCredentials(t *testing.T) {
	_, srv := newFakeVault(t)
	ctx := context.Background()

	b, err := Connect(ctx, Config{Address: srv.URL, Token: testToken}, logger.Discard())
	require.NoError(t, err)

	lease, err := b.DatabaseCredentials(ctx, "readonly")
	require.NoError(t, err)
	assert.Equal(t, "v-readonly-xyz", lease.Username)
	assert.Equal(t, "A1a-generated", lease.Password)
	assert.Equal(t, time.Hour, lease.LeaseDuration)
	assert.True(t, lease.Renewable)

	_, err = b.DatabaseCredentials(ctx, "missing")
	assert.Error(t, err)
}

func TestManager_WithVaultBackend(t *testing.T) {
	_, srv := newFakeVault(t)
	ctx := context.Background()
	dir := t.TempDir()

	v, err := secrets.Open(secrets.Config{KeyPath: dir + "/secrets.key", Logger: logger.Discard()})
	require.NoError(t, err)
	backend := New(ctx, Config{Address: srv.URL, Token: testToken}, logger.Discard())
	m := secrets.NewManager(backend, secrets.NewFileStore(dir+"/secrets.json", v), "trustcore", logger.Discard())

	require.NoError(t, m.SetSecret(ctx, "webhook_secret", "whsec"))
	got, err := m.GetSecret(ctx, "webhook_secret")
	require.NoError(t, err)
	assert.Equal(t, "whsec", got)

	names, err := m.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"webhook_secret"}, names)
}
