package meshgate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentityDerivesKeyFromPassphrase(t *testing.T) {
	a := NewIdentity("orchard", "correct horse battery staple", 6)
	b := NewIdentity("orchard", "correct horse battery staple", 6)
	c := NewIdentity("orchard", "correct horse battery stable", 6)

	assert.Equal(t, a.NetworkKey, b.NetworkKey, "same passphrase must derive the same key")
	assert.NotEqual(t, a.NetworkKey, c.NetworkKey, "different passphrases must derive different keys")
	assert.NotEqual(t, [32]byte{}, a.NetworkKey)
	assert.Equal(t, "orchard", a.NetworkName)
	assert.Equal(t, uint8(6), a.Channel)
}

func TestIdentitySerializeRoundTrip(t *testing.T) {
	original := NewIdentity("orchard", "correct horse battery staple", 11)

	loaded, err := LoadIdentity(original.Serialize())
	require.NoError(t, err)
	assert.Equal(t, original, *loaded)
}

func TestLoadIdentityRejectsGarbage(t *testing.T) {
	_, err := LoadIdentity([]byte("not json at all"))
	assert.Error(t, err)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	store := NewFileStore(path)

	identity := NewIdentity("orchard", "correct horse battery staple", 6)
	require.NoError(t, store.Save(identity))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, identity, loaded)

	// Saving again replaces the previous identity in place.
	rotated := NewIdentity("orchard", "a rotated passphrase", 6)
	require.NoError(t, store.Save(rotated))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, rotated, loaded)
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	_, err := store.Load()
	assert.Error(t, err)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("{torn"), 0o600))

	store := NewFileStore(path)
	_, err := store.Load()
	assert.Error(t, err)
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(NewIdentity("orchard", "correct horse battery staple", 6)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "identity file must not be world readable")
}
