package secrets

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// ReEncrypt decrypts every value with from and seals it again with to. The
// result shares keys with in; in itself is not modified. from and to may be
// the same vault after a rotation.
func ReEncrypt(from, to *Vault, in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for name, ciphertext := range in {
		plain, err := from.Decrypt(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("re-encrypt %s: %w", name, err)
		}
		sealed, err := to.Encrypt(plain)
		if err != nil {
			return nil, fmt.Errorf("re-encrypt %s: %w", name, err)
		}
		out[name] = sealed
	}
	return out, nil
}

// EncryptMap seals every value of in. Values that are already encrypted are
// kept as they are.
func (v *Vault) EncryptMap(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, val := range in {
		if IsEncrypted(val) {
			out[k] = val
			continue
		}
		sealed, err := v.Encrypt(val)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", k, err)
		}
		out[k] = sealed
	}
	return out, nil
}

// DecryptMap opens every encrypted value of in and passes others through.
func (v *Vault) DecryptMap(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, val := range in {
		if !IsEncrypted(val) {
			out[k] = val
			continue
		}
		plain, err := v.Decrypt(val)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}

// EncryptEnv seals the values of a KEY=VALUE document. Comments, blank
// lines and already encrypted values are preserved.
func (v *Vault) EncryptEnv(data []byte) ([]byte, error) {
	return v.mapEnv(data, func(key, value string) (string, error) {
		if value == "" || IsEncrypted(value) {
			return value, nil
		}
		return v.Encrypt(value)
	})
}

// DecryptEnv reverses EncryptEnv.
func (v *Vault) DecryptEnv(data []byte) ([]byte, error) {
	return v.mapEnv(data, func(key, value string) (string, error) {
		if !IsEncrypted(value) {
			return value, nil
		}
		return v.Decrypt(value)
	})
}

func (v *Vault) mapEnv(data []byte, fn func(key, value string) (string, error)) ([]byte, error) {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		trimmed := strings.TrimSpace(text)
		key, value, ok := strings.Cut(text, "=")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || !ok {
			out.WriteString(text)
			out.WriteByte('\n')
			continue
		}
		mapped, err := fn(strings.TrimSpace(key), value)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", line, strings.TrimSpace(key), err)
		}
		out.WriteString(key)
		out.WriteByte('=')
		out.WriteString(mapped)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
