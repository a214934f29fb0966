package meshgate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opd-ai/meshgate/crypto"
)

// Identity is the gateway's persistent network configuration: the radio
// channel, the network name, and the network key that authenticates the
// handshake itself. Per-node session keys are derived fresh and never
// persisted.
type Identity struct {
	NetworkName string                 `json:"network_name"`
	Channel     uint8                  `json:"channel"`
	NetworkKey  [crypto.KeyLength]byte `json:"network_key"`
}

// NewIdentity builds an identity from a human-readable passphrase, hashing
// it down to key width.
func NewIdentity(networkName, passphrase string, channel uint8) Identity {
	return Identity{
		NetworkName: networkName,
		Channel:     channel,
		NetworkKey:  crypto.NetworkKeyFromPassphrase(passphrase),
	}
}

// Serialize converts the identity to JSON.
func (i *Identity) Serialize() []byte {
	data, _ := json.Marshal(i)
	return data
}

// LoadIdentity deserializes a JSON identity.
func LoadIdentity(data []byte) (*Identity, error) {
	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	return &identity, nil
}

// Store loads and saves the gateway identity. The engine only reads and
// writes the structure; the medium belongs to the implementation.
type Store interface {
	Load() (Identity, error)
	Save(Identity) error
}

// FileStore persists the identity as a JSON file with atomic writes.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the identity from disk.
func (s *FileStore) Load() (Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Identity{}, fmt.Errorf("reading identity file: %w", err)
	}

	identity, err := LoadIdentity(data)
	if err != nil {
		return Identity{}, err
	}
	return *identity, nil
}

// Save writes the identity to disk, replacing the previous file atomically
// so a crash never leaves a torn identity behind.
func (s *FileStore) Save(identity Identity) error {
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, identity.Serialize(), 0o600); err != nil {
		return fmt.Errorf("writing temporary identity file: %w", err)
	}

	if err := os.Rename(tmpFile, s.path); err != nil {
		return fmt.Errorf("renaming identity file: %w", err)
	}
	return nil
}
