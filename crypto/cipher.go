package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// NonceLength is the size of the random nonce prepended to every sealed
	// message.
	NonceLength = chacha20poly1305.NonceSize

	// TagLength is the size of the Poly1305 authentication tag.
	TagLength = chacha20poly1305.Overhead
)

var (
	// ErrDecryptFailed indicates a ciphertext that failed authentication or
	// decryption. The two cases are deliberately indistinguishable.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrCiphertextTooShort indicates sealed data shorter than nonce and tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Seal encrypts and authenticates plaintext under key, binding aad. The
// result is a random nonce followed by the ciphertext and tag:
//
//	+-------------+------------------+----------+
//	| nonce (12)  | ciphertext (var) | tag (16) |
//	+-------------+------------------+----------+
//
// An empty plaintext is valid and produces an authentication-only message.
func Seal(key [KeyLength]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	out := make([]byte, NonceLength, NonceLength+len(plaintext)+TagLength)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(out, out[:NonceLength], plaintext, aad), nil
}

// Open authenticates and decrypts data produced by Seal. It returns
// ErrDecryptFailed for any tampered, truncated or foreign ciphertext.
func Open(key [KeyLength]byte, aad, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceLength+TagLength {
		return nil, ErrCiphertextTooShort
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, sealed[:NonceLength], sealed[NonceLength:], aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}
