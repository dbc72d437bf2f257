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

// Package secrets protects configuration secrets at rest with a local,
// versioned key file and optionally delegates storage to an enterprise
// secret store.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
)

// ErrDecryption is returned for any ciphertext that cannot be opened:
// malformed, tampered, or sealed under a key version this vault lacks.
var ErrDecryption = errors.New("decryption failed")

// Prefix marks values produced by Encrypt.
const Prefix = "enc:v1:"

const keyVersionTag = "k"

var payloadEncoding = base64.RawURLEncoding.Strict()

// Config holds vault configuration.
type Config struct {
	// KeyPath is the key file. It is created with mode 0600 if missing.
	KeyPath string
	Logger  *slog.Logger
	// Instruments is optional.
	Instruments *metrics.SecurityInstruments
}

// KeyRef identifies a key version.
type KeyRef struct {
	Version uint32
}

// KeyInfo describes the key file.
type KeyInfo struct {
	Path          string      `json:"path"`
	Size          int64       `json:"size"`
	Mode          fs.FileMode `json:"mode"`
	ModTime       time.Time   `json:"mod_time"`
	ActiveVersion uint32      `json:"active_version"`
	Versions      []uint32    `json:"versions"`
}

type keyring struct {
	active   uint32
	versions []uint32
	records  []keyRecord
	aeads    map[uint32]cipher.AEAD
}

// Vault encrypts and decrypts secret strings. Readers use an atomically
// swapped keyring; RotateKey is serialized.
type Vault struct {
	path   string
	logger *slog.Logger
	inst   *metrics.SecurityInstruments

	mu   sync.Mutex
	ring atomic.Pointer[keyring]
}

// Open loads the key file at cfg.KeyPath, generating version 1 if absent.
func Open(cfg Config) (*Vault, error) {
	if cfg.KeyPath == "" {
		return nil, errors.New("key path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	v := &Vault{
		path:   cfg.KeyPath,
		logger: log.With(logger.Component("secrets_vault")),
		inst:   cfg.Instruments,
	}

	records, err := readKeyFile(cfg.KeyPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		rec, genErr := newKeyRecord(1)
		if genErr != nil {
			return nil, genErr
		}
		records = []keyRecord{rec}
		if err := writeKeyFile(cfg.KeyPath, records); err != nil {
			return nil, err
		}
		v.logger.Info("generated new secrets key", logger.KeyVersion(1), logger.Path(cfg.KeyPath))
	case err != nil:
		return nil, fmt.Errorf("failed to load key file: %w", err)
	}

	ring, err := buildKeyring(records)
	if err != nil {
		return nil, err
	}
	v.ring.Store(ring)
	return v, nil
}

func buildKeyring(records []keyRecord) (*keyring, error) {
	ring := &keyring{
		records: records,
		aeads:   make(map[uint32]cipher.AEAD, len(records)),
	}
	for _, r := range records {
		aead, err := deriveAEAD(r)
		if err != nil {
			return nil, err
		}
		ring.aeads[r.version] = aead
		ring.versions = append(ring.versions, r.version)
		ring.active = r.version
	}
	return ring, nil
}

func deriveAEAD(r keyRecord) (cipher.AEAD, error) {
	info := []byte("trustcore secrets v" + strconv.FormatUint(uint64(r.version), 10))
	sub := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, r.key, nil, info), sub); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(sub)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func header(version uint32) string {
	return Prefix + keyVersionTag + strconv.FormatUint(uint64(version), 10)
}

// Encrypt seals plaintext under the active key. The empty string maps to
// itself.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ring := v.ring.Load()
	aead := ring.aeads[ring.active]

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	h := header(ring.active)
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(h))
	return h + ":" + payloadEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt under any known key version.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	plain, err := v.open(ciphertext)
	if err != nil {
		v.inst.RecordDecryptFailure(context.Background())
		return "", err
	}
	return plain, nil
}

func (v *Vault) open(ciphertext string) (string, error) {
	rest, ok := strings.CutPrefix(ciphertext, Prefix+keyVersionTag)
	if !ok {
		return "", fmt.Errorf("%w: not an encrypted value", ErrDecryption)
	}
	versionText, payload, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("%w: missing payload", ErrDecryption)
	}
	version, err := strconv.ParseUint(versionText, 10, 32)
	if err != nil || strconv.FormatUint(version, 10) != versionText {
		return "", fmt.Errorf("%w: bad key version", ErrDecryption)
	}

	aead, ok := v.ring.Load().aeads[uint32(version)]
	if !ok {
		return "", fmt.Errorf("%w: unknown key version %d", ErrDecryption, version)
	}

	raw, err := payloadEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrDecryption)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrDecryption)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(header(uint32(version))))
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plain), nil
}

// RotateKey appends a new key version and makes it active. Values sealed
// under earlier versions still decrypt.
func (v *Vault) RotateKey() (KeyRef, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.ring.Load()
	rec, err := newKeyRecord(current.active + 1)
	if err != nil {
		return KeyRef{}, err
	}
	records := append(append([]keyRecord(nil), current.records...), rec)

	ring, err := buildKeyring(records)
	if err != nil {
		return KeyRef{}, err
	}
	if err := writeKeyFile(v.path, records); err != nil {
		return KeyRef{}, err
	}
	v.ring.Store(ring)

	v.logger.Info("rotated secrets key", logger.KeyVersion(rec.version))
	return KeyRef{Version: rec.version}, nil
}

// ActiveKey returns the version used by Encrypt.
func (v *Vault) ActiveKey() KeyRef {
	return KeyRef{Version: v.ring.Load().active}
}

// KeyInfo reports metadata about the key file without exposing key bytes.
func (v *Vault) KeyInfo() (*KeyInfo, error) {
	st, err := os.Stat(v.path)
	if err != nil {
		return nil, err
	}
	ring := v.ring.Load()
	return &KeyInfo{
		Path:          v.path,
		Size:          st.Size(),
		Mode:          st.Mode().Perm(),
		ModTime:       st.ModTime(),
		ActiveVersion: ring.active,
		Versions:      append([]uint32(nil), ring.versions...),
	}, nil
}

// KeyVersionOf returns the key version a ciphertext claims to be sealed
// under, without decrypting it.
func KeyVersionOf(ciphertext string) (uint32, bool) {
	rest, ok := strings.CutPrefix(ciphertext, Prefix+keyVersionTag)
	if !ok {
		return 0, false
	}
	versionText, _, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, false
	}
	version, err := strconv.ParseUint(versionText, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(version), true
}

// IsEncrypted reports whether s looks like a value produced by Encrypt.
func IsEncrypted(s string) bool {
	_, ok := KeyVersionOf(s)
	return ok
}
