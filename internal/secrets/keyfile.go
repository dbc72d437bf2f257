package secrets

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	keySize    = 32
	recordSize = 4 + keySize

	keyFileMode = 0o600
	keyDirMode  = 0o700
)

// ErrCorruptKeyFile is returned when the key file cannot be parsed.
var ErrCorruptKeyFile = errors.New("corrupt key file")

// keyRecord is one versioned master key. The key file is a sequence of
// records, [uint32 big-endian version][32 byte key], the last one active.
type keyRecord struct {
	version uint32
	key     []byte
}

func readKeyFile(path string) ([]keyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%recordSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrCorruptKeyFile, path, len(data))
	}

	records := make([]keyRecord, 0, len(data)/recordSize)
	var last uint32
	for off := 0; off < len(data); off += recordSize {
		version := binary.BigEndian.Uint32(data[off : off+4])
		if version <= last {
			return nil, fmt.Errorf("%w: key versions not increasing", ErrCorruptKeyFile)
		}
		last = version
		records = append(records, keyRecord{
			version: version,
			key:     append([]byte(nil), data[off+4:off+recordSize]...),
		})
	}
	return records, nil
}

// writeKeyFile replaces path atomically with owner-only permissions.
func writeKeyFile(path string, records []keyRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, keyDirMode); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	buf := make([]byte, 0, len(records)*recordSize)
	for _, r := range records {
		buf = binary.BigEndian.AppendUint32(buf, r.version)
		buf = append(buf, r.key...)
	}

	tmp, err := os.CreateTemp(dir, ".trustcore-key-*")
	if err != nil {
		return fmt.Errorf("failed to create temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(keyFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict key file: %w", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

func newKeyRecord(version uint32) (keyRecord, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return keyRecord{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return keyRecord{version: version, key: key}, nil
}
