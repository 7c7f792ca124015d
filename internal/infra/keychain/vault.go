// Package keychain provides the device's secure key-value capability.
// FileVault is the on-disk implementation; tests use Memory.
package keychain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// FileVault stores small secrets in a single secretbox-encrypted file.
// The file layout is nonce || sealed(JSON map). Writes are atomic via
// rename so a crash never leaves a truncated vault.
type FileVault struct {
	mu   sync.Mutex
	path string
	key  [32]byte
}

// NewFileVault creates a vault at path, deriving the sealing key from
// the passphrase.
func NewFileVault(path, passphrase string) (*FileVault, error) {
	if path == "" {
		return nil, fmt.Errorf("vault path must not be empty")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase must not be empty")
	}
	v := &FileVault{path: path, key: sha256.Sum256([]byte(passphrase))}
	return v, nil
}

// Get returns the value for key, reporting whether it exists.
func (v *FileVault) Get(key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	items, err := v.load()
	if err != nil {
		return "", false, err
	}
	val, ok := items[key]
	return val, ok, nil
}

// Set stores the value under key.
func (v *FileVault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	items, err := v.load()
	if err != nil {
		return err
	}
	items[key] = value
	return v.save(items)
}

// Delete removes key. Deleting a missing key is not an error.
func (v *FileVault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	items, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	return v.save(items)
}

func (v *FileVault) load() (map[string]string, error) {
	raw, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("vault file corrupted: too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, fmt.Errorf("vault file corrupted or wrong passphrase")
	}

	items := map[string]string{}
	if err := json.Unmarshal(plain, &items); err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	return items, nil
}

func (v *FileVault) save(items map[string]string) error {
	plain, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plain, &nonce, &v.key)

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("commit vault: %w", err)
	}
	return nil
}
