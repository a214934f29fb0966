package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// sessionKeyInfo is the HKDF label for session key derivation. Both ends of
// the handshake must use the same label.
const sessionKeyInfo = "mesh gateway session key v1"

// DeriveSessionKey computes the symmetric session key for one node from an
// X25519 exchange, mixing in the network key as HKDF salt so nodes from a
// foreign network can never converge on the same key.
func DeriveSessionKey(peerPublicKey, privateKey, networkKey [KeyLength]byte) ([KeyLength]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSessionKey",
		"peer_key_prefix": fmt.Sprintf("%x", peerPublicKey[:8]),
	}).Debug("Computing session key using ECDH")

	shared, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DeriveSessionKey",
			"error":    err.Error(),
		}).Error("X25519 computation failed")
		return [KeyLength]byte{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	reader := hkdf.New(sha256.New, shared, networkKey[:], []byte(sessionKeyInfo))

	var key [KeyLength]byte
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		ZeroBytes(shared)
		return [KeyLength]byte{}, fmt.Errorf("failed to derive session key: %w", err)
	}

	// Wipe the raw ECDH output; only the derived key leaves this function.
	ZeroBytes(shared)

	logrus.WithFields(logrus.Fields{
		"function": "DeriveSessionKey",
	}).Debug("Session key derived, intermediate secret wiped")

	return key, nil
}

// NetworkKeyFromPassphrase collapses an operator passphrase to key width.
// Every device on the network derives the identical key from the identical
// passphrase.
func NetworkKeyFromPassphrase(passphrase string) [KeyLength]byte {
	return blake2s.Sum256([]byte(passphrase))
}
