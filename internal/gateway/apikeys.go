package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opentrusty/trustcore/internal/rbac"
)

// Defaults for API key entries that omit identity fields.
const (
	DefaultAPIKeyUser = "api_client"
	DefaultAPIKeyRole = rbac.RoleAPIClient
)

// APIKey is one entry of the static key table.
type APIKey struct {
	Name   string   `yaml:"name"`
	Key    string   `yaml:"key"`
	UserID string   `yaml:"user_id"`
	Roles  []string `yaml:"roles"`
}

type keyEntry struct {
	digest [sha256.Size]byte
	name   string
	userID string
	roles  []rbac.Role
}

// KeyTable is an immutable API key lookup table. Keys are held as SHA-256
// digests and compared in constant time.
type KeyTable struct {
	entries []keyEntry
}

// NewKeyTable validates keys and builds a table. Unknown role names and
// duplicate keys are errors.
func NewKeyTable(keys []APIKey) (*KeyTable, error) {
	t := &KeyTable{entries: make([]keyEntry, 0, len(keys))}
	seen := map[[sha256.Size]byte]string{}

	for i, k := range keys {
		if k.Key == "" {
			return nil, fmt.Errorf("api key %d (%s): empty key", i, k.Name)
		}
		e := keyEntry{
			digest: sha256.Sum256([]byte(k.Key)),
			name:   k.Name,
			userID: k.UserID,
		}
		if e.userID == "" {
			e.userID = DefaultAPIKeyUser
		}
		if e.name == "" {
			e.name = e.userID
		}
		if prev, dup := seen[e.digest]; dup {
			return nil, fmt.Errorf("api key %s duplicates %s", e.name, prev)
		}
		seen[e.digest] = e.name

		for _, r := range k.Roles {
			role, err := rbac.ParseRole(r)
			if err != nil {
				return nil, fmt.Errorf("api key %s: %w", e.name, err)
			}
			e.roles = append(e.roles, role)
		}
		if len(e.roles) == 0 {
			e.roles = []rbac.Role{DefaultAPIKeyRole}
		}
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Len returns the number of keys.
func (t *KeyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// lookup scans every entry so timing does not depend on which key matched.
func (t *KeyTable) lookup(key string) (keyEntry, bool) {
	if t == nil {
		return keyEntry{}, false
	}
	digest := sha256.Sum256([]byte(key))
	var (
		found keyEntry
		ok    int
	)
	for _, e := range t.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			found = e
			ok = 1
		}
	}
	return found, ok == 1
}

// Decrypter opens vault-encrypted key values.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type keyFile struct {
	Keys []APIKey `yaml:"keys"`
}

// LoadKeyFile reads a YAML key table:
//
//	keys:
//	  - name: ingest
//	    key: enc:v1:k1:...
//	    user_id: ingest-bot
//	    roles: [api_client]
//
// Values carrying the vault prefix are decrypted with dec; plain values are
// accepted as-is. dec may be nil when no value is encrypted.
func LoadKeyFile(path string, dec Decrypter, isEncrypted func(string) bool) (*KeyTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api key file: %w", err)
	}
	var f keyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse api key file: %w", err)
	}

	for i := range f.Keys {
		if isEncrypted == nil || !isEncrypted(f.Keys[i].Key) {
			continue
		}
		if dec == nil {
			return nil, errors.New("api key file holds encrypted keys but no vault is configured")
		}
		plain, err := dec.Decrypt(f.Keys[i].Key)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key %s: %w", f.Keys[i].Name, err)
		}
		f.Keys[i].Key = plain
	}
	return NewKeyTable(f.Keys)
}
