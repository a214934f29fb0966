// Package crypto implements the cryptographic primitives of the sensor
// network: Curve25519 key pairs, session key derivation, and the
// ChaCha20-Poly1305 envelope that protects every sealed message.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyLength is the byte size of every key handled by this package.
const KeyLength = 32

// KeyPair represents a Curve25519 key pair used for the key agreement.
type KeyPair struct {
	Public  [KeyLength]byte
	Private [KeyLength]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}

	return keyPair, nil
}

// FromSecretKey creates a key pair from an existing private key, deriving
// the public half by scalar multiplication with the curve base point.
func FromSecretKey(secretKey [KeyLength]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	publicKey, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{Private: secretKey}
	copy(keyPair.Public[:], publicKey)

	return keyPair, nil
}

// GenerateKey creates a random symmetric key, used for the broadcast key.
func GenerateKey() ([KeyLength]byte, error) {
	var key [KeyLength]byte
	if _, err := rand.Read(key[:]); err != nil {
		return [KeyLength]byte{}, err
	}
	return key, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [KeyLength]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
