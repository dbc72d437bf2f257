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

package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/trustcore/internal/observability/logger"
)

func openTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(Config{KeyPath: filepath.Join(t.TempDir(), "keys", "secrets.key"), Logger: logger.Discard()})
	require.NoError(t, err)
	return v
}

// TestPurpose: Validates that a missing key file is generated with owner-only permissions.
// Scope: Unit Test
// Security: Key material protection (CWE-732)
// Expected: The key file exists with mode 0600 and holds exactly one 36 byte record.
// Test Case ID: SEC-01
func TestOpen_GeneratesKeyFile(t *testing.T) {
	v := openTestVault(t)

	info, err := v.KeyInfo()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode)
	assert.EqualValues(t, recordSize, info.Size)
	assert.Equal(t, uint32(1), info.ActiveVersion)
	assert.Equal(t, []uint32{1}, info.Versions)
}

func TestOpen_ReloadsExistingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.key")
	v1, err := Open(Config{KeyPath: path, Logger: logger.Discard()})
	require.NoError(t, err)
	sealed, err := v1.Encrypt("db-password")
	require.NoError(t, err)

	v2, err := Open(Config{KeyPath: path, Logger: logger.Discard()})
	require.NoError(t, err)
	plain, err := v2.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "db-password", plain)
}

func TestOpen_CorruptKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.key")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	_, err := Open(Config{KeyPath: path, Logger: logger.Discard()})
	assert.ErrorIs(t, err, ErrCorruptKeyFile)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := openTestVault(t)

	for _, in := range []string{"", "x", "hunter2", strings.Repeat("long secret ", 200), "ünïcødé ✓"} {
		sealed, err := v.Encrypt(in)
		require.NoError(t, err)
		if in == "" {
			assert.Equal(t, "", sealed)
		} else {
			assert.True(t, IsEncrypted(sealed))
			assert.NotContains(t, sealed, in)
		}
		plain, err := v.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, in, plain)
	}
}

func TestEncrypt_UsesFreshNonce(t *testing.T) {
	v := openTestVault(t)

	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

// TestPurpose: Validates that every single-character modification of a ciphertext is rejected.
// Scope: Unit Test
// Security: Authenticated encryption integrity (CWE-353)
// Expected: Decrypt returns ErrDecryption for each position flipped.
// Test Case ID: SEC-02
func TestDecrypt_DetectsEveryFlip(t *testing.T) {
	v := openTestVault(t)

	sealed, err := v.Encrypt("api-token-value")
	require.NoError(t, err)

	for i := range sealed {
		b := []byte(sealed)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := v.Decrypt(string(b))
		assert.ErrorIs(t, err, ErrDecryption, "position %d", i)
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	v := openTestVault(t)

	for _, in := range []string{
		"plaintext",
		"enc:v1:",
		"enc:v1:k1",
		"enc:v1:k1:",
		"enc:v1:k01:AAAA",
		"enc:v1:k9:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"enc:v1:k1:!!!!",
	} {
		_, err := v.Decrypt(in)
		assert.ErrorIs(t, err, ErrDecryption, "input %q", in)
	}
}

func TestDecrypt_ForeignKey(t *testing.T) {
	a := openTestVault(t)
	b := openTestVault(t)

	sealed, err := a.Encrypt("secret")
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryption)
}

// TestPurpose: Validates that rotation keeps older ciphertexts readable and seals new ones under the new key.
// Scope: Unit Test
// Security: Key rotation continuity
// Expected: Old values decrypt, new values carry the new version, and the key file survives reopening.
// Test Case ID: SEC-03
func TestRotateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.key")
	v, err := Open(Config{KeyPath: path, Logger: logger.Discard()})
	require.NoError(t, err)

	old, err := v.Encrypt("before")
	require.NoError(t, err)

	ref, err := v.RotateKey()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ref.Version)
	assert.Equal(t, ref, v.ActiveKey())

	fresh, err := v.Encrypt("after")
	require.NoError(t, err)
	version, ok := KeyVersionOf(fresh)
	require.True(t, ok)
	assert.Equal(t, uint32(2), version)

	plain, err := v.Decrypt(old)
	require.NoError(t, err)
	assert.Equal(t, "before", plain)

	reopened, err := Open(Config{KeyPath: path, Logger: logger.Discard()})
	require.NoError(t, err)
	plain, err = reopened.Decrypt(fresh)
	require.NoError(t, err)
	assert.Equal(t, "after", plain)

	info, err := reopened.KeyInfo()
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, info.Versions)
	assert.Equal(t, os.FileMode(0o600), info.Mode)
}

func TestRotateKey_ConcurrentReaders(t *testing.T) {
	v := openTestVault(t)
	sealed, err := v.Encrypt("stable")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				plain, err := v.Decrypt(sealed)
				assert.NoError(t, err)
				assert.Equal(t, "stable", plain)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := v.RotateKey()
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, uint32(4), v.ActiveKey().Version)
}

func TestReEncrypt(t *testing.T) {
	from := openTestVault(t)
	to := openTestVault(t)

	a, err := from.Encrypt("alpha")
	require.NoError(t, err)
	in := map[string]string{"a": a, "empty": ""}

	out, err := ReEncrypt(from, to, in)
	require.NoError(t, err)
	assert.Equal(t, a, in["a"])

	plain, err := to.Decrypt(out["a"])
	require.NoError(t, err)
	assert.Equal(t, "alpha", plain)
	assert.Equal(t, "", out["empty"])

	_, err = from.Decrypt(out["a"])
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = ReEncrypt(to, from, in)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestEncryptMapAndEnv(t *testing.T) {
	v := openTestVault(t)

	sealed, err := v.EncryptMap(map[string]string{"DB_PASSWORD": "pw", "EMPTY": ""})
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed["DB_PASSWORD"]))

	again, err := v.EncryptMap(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed["DB_PASSWORD"], again["DB_PASSWORD"])

	plain, err := v.DecryptMap(again)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"DB_PASSWORD": "pw", "EMPTY": ""}, plain)

	env := []byte("# credentials\nDB_PASSWORD=pw\n\nJWT_SECRET=abc=def\nNOT_AN_ASSIGNMENT\n")
	encEnv, err := v.EncryptEnv(env)
	require.NoError(t, err)
	assert.Contains(t, string(encEnv), "# credentials\n")
	assert.Contains(t, string(encEnv), "DB_PASSWORD=enc:v1:k1:")
	assert.NotContains(t, string(encEnv), "abc=def")

	decEnv, err := v.DecryptEnv(encEnv)
	require.NoError(t, err)
	assert.Equal(t, string(env), string(decEnv))
}
