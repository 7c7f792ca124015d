package keychain_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maletapp/malet-client-go/internal/infra/keychain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileVault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")

	v, err := keychain.NewFileVault(path, "test-passphrase")
	require.NoError(t, err)

	require.NoError(t, v.Set("session.token", "tok-abc-123"))

	// A fresh vault over the same file sees the value.
	v2, err := keychain.NewFileVault(path, "test-passphrase")
	require.NoError(t, err)

	got, ok, err := v2.Get("session.token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-abc-123", got)
}

func TestFileVault_GetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")

	v, err := keychain.NewFileVault(path, "test-passphrase")
	require.NoError(t, err)

	_, ok, err := v.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileVault_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")

	v, err := keychain.NewFileVault(path, "test-passphrase")
	require.NoError(t, err)

	require.NoError(t, v.Set("k", "v"))
	require.NoError(t, v.Delete("k"))

	_, ok, err := v.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, v.Delete("k"))
}

func TestFileVault_CiphertextHidesValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")

	v, err := keychain.NewFileVault(path, "test-passphrase")
	require.NoError(t, err)

	secret := "super-secret-session-token"
	require.NoError(t, v.Set("session.token", secret))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), secret), "token must not appear in plaintext on disk")
}

func TestFileVault_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")

	v, err := keychain.NewFileVault(path, "right")
	require.NoError(t, err)
	require.NoError(t, v.Set("k", "v"))

	v2, err := keychain.NewFileVault(path, "wrong")
	require.NoError(t, err)

	_, _, err = v2.Get("k")
	assert.Error(t, err)
}
