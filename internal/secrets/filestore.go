package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
)

// ErrSecretNotFound is returned when a named secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

type fileDocument struct {
	Secrets map[string]string `json:"secrets"`
}

// FileStore keeps named secrets in a JSON file, each value sealed by a
// Vault. It is the local fallback of Manager.
type FileStore struct {
	path  string
	vault *Vault

	mu sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first write.
func NewFileStore(path string, vault *Vault) *FileStore {
	return &FileStore{path: path, vault: vault}
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file: %w", err)
	}
	if doc.Secrets == nil {
		doc.Secrets = map[string]string{}
	}
	return doc.Secrets, nil
}

func (s *FileStore) save(entries map[string]string) error {
	data, err := json.MarshalIndent(fileDocument{Secrets: entries}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, keyDirMode); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".trustcore-secrets-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(keyFileMode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Get returns the decrypted value of name.
func (s *FileStore) Get(name string) (string, error) {
	s.mu.Lock()
	entries, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	sealed, ok := entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return s.vault.Decrypt(sealed)
}

// Set encrypts value and stores it under name.
func (s *FileStore) Set(name, value string) error {
	sealed, err := s.vault.Encrypt(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[name] = sealed
	return s.save(entries)
}

// Delete removes name. Deleting a missing name is not an error.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return s.save(entries)
}

// List returns the stored names in sorted order.
func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	entries, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Reseal re-encrypts every entry under the vault's active key and returns
// how many entries were rewritten. Use it after RotateKey.
func (s *FileStore) Reseal() (int, error) {
	return s.ResealFrom(s.vault)
}

// ResealFrom decrypts every entry with from and re-encrypts it with this
// store's vault.
func (s *FileStore) ResealFrom(from *Vault) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return 0, err
	}
	resealed, err := ReEncrypt(from, s.vault, entries)
	if err != nil {
		return 0, err
	}
	if err := s.save(resealed); err != nil {
		return 0, err
	}
	return len(resealed), nil
}
