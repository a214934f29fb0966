package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	aad := []byte{0x01}
	plaintext := []byte("temperature=21.5")

	sealed, err := Seal(key, aad, plaintext)
	require.NoError(t, err)
	assert.Len(t, sealed, NonceLength+len(plaintext)+TagLength)

	opened, err := Open(key, aad, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	wrong, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := Seal(key, nil, []byte("payload"))
	require.NoError(t, err)

	_, err = Open(wrong, nil, sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := Seal(key, []byte{0x01}, []byte("payload"))
	require.NoError(t, err)

	// A ciphertext sealed under one message type must not open under another.
	_, err = Open(key, []byte{0x02}, sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsTampering(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := Seal(key, nil, []byte("payload"))
	require.NoError(t, err)
	sealed[NonceLength] ^= 0x01

	_, err = Open(key, nil, sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = Open(key, nil, make([]byte, NonceLength+TagLength-1))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSealEmptyPlaintext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	// Authentication-only messages carry no plaintext at all.
	sealed, err := Seal(key, []byte{0x08}, nil)
	require.NoError(t, err)
	assert.Len(t, sealed, NonceLength+TagLength)

	opened, err := Open(key, []byte{0x08}, sealed)
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestSealNonceUniqueness(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a, err := Seal(key, nil, []byte("same"))
	require.NoError(t, err)
	b, err := Seal(key, nil, []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a[:NonceLength], b[:NonceLength], "nonce reused across seals")
}
