package protocol

import (
	"errors"
	"fmt"
)

const (
	// MaxMessageLength is the radio frame limit. No message, sealed or plain,
	// may exceed it.
	MaxMessageLength = 250

	// NonceLength is the size of the random nonce prepended to every sealed
	// message.
	NonceLength = 12

	// TagLength is the authentication tag appended by the AEAD.
	TagLength = 16

	// SealedOverhead is the fixed cost of the encrypted envelope: type byte,
	// nonce and authentication tag.
	SealedOverhead = 1 + NonceLength + TagLength

	// dataHeaderLength covers the counter and encoding tag inside a sealed
	// data message.
	dataHeaderLength = 3

	// MaxDataPayload is the largest sensor or control payload that fits in a
	// sealed data message.
	MaxDataPayload = MaxMessageLength - SealedOverhead - dataHeaderLength

	// MaxUnencryptedPayload is the largest payload of an UnencryptedData
	// message, which carries no envelope.
	MaxUnencryptedPayload = MaxMessageLength - 1 - dataHeaderLength

	// MaxNodeNameLength bounds the human-readable node name.
	MaxNodeNameLength = 32

	// KeyLength is the size of every key in the protocol: network key,
	// session keys and the broadcast key.
	KeyLength = 32
)

var (
	// ErrPayloadTooLarge indicates a payload exceeding the frame budget.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMessageTooShort indicates a message shorter than its fixed layout.
	ErrMessageTooShort = errors.New("message too short")

	// ErrMessageMalformed indicates a message whose layout does not match its
	// type byte.
	ErrMessageMalformed = errors.New("malformed message")
)

// ValidateDataPayload checks a payload against the sealed data frame budget.
func ValidateDataPayload(payload []byte) error {
	if len(payload) > MaxDataPayload {
		return fmt.Errorf("%w: %d exceeds %d", ErrPayloadTooLarge, len(payload), MaxDataPayload)
	}
	return nil
}
