package protocol

import (
	"encoding/binary"
	"fmt"
)

// Sealed messages share one envelope. The type byte doubles as AEAD
// associated data so a ciphertext cannot be replayed under another type.
//
//	+------+-------------+------------------+-----------+
//	| type | nonce (12)  | ciphertext (var) | tag (16)  |
//	+------+-------------+------------------+-----------+
//
// The layouts documented below are the plaintext bodies inside the envelope.

// EncodeSealed prepends the type byte to a sealed body (nonce, ciphertext and
// tag as produced by the cipher) and enforces the frame budget.
func EncodeSealed(t MessageType, sealed []byte) ([]byte, error) {
	if 1+len(sealed) > MaxMessageLength {
		return nil, fmt.Errorf("%w: sealed %s is %d bytes", ErrPayloadTooLarge, t, 1+len(sealed))
	}
	out := make([]byte, 1+len(sealed))
	out[0] = byte(t)
	copy(out[1:], sealed)
	return out, nil
}

// SplitSealed separates a received message into its type byte and sealed
// body, rejecting frames shorter than the envelope.
func SplitSealed(data []byte) (MessageType, []byte, error) {
	if len(data) < SealedOverhead {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(data))
	}
	return MessageType(data[0]), data[1:], nil
}

const (
	helloFlagSleepy       = 0x01
	helloFlagBroadcastKey = 0x02
)

// ClientHelloBody is the plaintext of a ClientHello, sealed with the network
// key.
//
//	+------------------+-----------+
//	| public key (32)  | flags (1) |
//	+------------------+-----------+
//
// Flag bit 0 marks a node that sleeps between messages; bit 1 asks the
// gateway to deliver the broadcast key after the handshake.
type ClientHelloBody struct {
	PublicKey           [KeyLength]byte
	Sleepy              bool
	RequestBroadcastKey bool
}

// Serialize converts the body to its wire form.
func (b *ClientHelloBody) Serialize() []byte {
	out := make([]byte, KeyLength+1)
	copy(out[:KeyLength], b.PublicKey[:])
	var flags byte
	if b.Sleepy {
		flags |= helloFlagSleepy
	}
	if b.RequestBroadcastKey {
		flags |= helloFlagBroadcastKey
	}
	out[KeyLength] = flags
	return out
}

// ParseClientHelloBody parses the plaintext of a ClientHello.
func ParseClientHelloBody(data []byte) (*ClientHelloBody, error) {
	if len(data) != KeyLength+1 {
		return nil, fmt.Errorf("%w: client hello body is %d bytes", ErrMessageMalformed, len(data))
	}
	b := &ClientHelloBody{
		Sleepy:              data[KeyLength]&helloFlagSleepy != 0,
		RequestBroadcastKey: data[KeyLength]&helloFlagBroadcastKey != 0,
	}
	copy(b.PublicKey[:], data[:KeyLength])
	return b, nil
}

// ServerHelloBody is the plaintext of a ServerHello, sealed with the network
// key.
//
//	+------------------+--------------+
//	| public key (32)  | node id (2)  |
//	+------------------+--------------+
type ServerHelloBody struct {
	PublicKey [KeyLength]byte
	NodeID    uint16
}

// Serialize converts the body to its wire form.
func (b *ServerHelloBody) Serialize() []byte {
	out := make([]byte, KeyLength+2)
	copy(out[:KeyLength], b.PublicKey[:])
	binary.BigEndian.PutUint16(out[KeyLength:], b.NodeID)
	return out
}

// ParseServerHelloBody parses the plaintext of a ServerHello.
func ParseServerHelloBody(data []byte) (*ServerHelloBody, error) {
	if len(data) != KeyLength+2 {
		return nil, fmt.Errorf("%w: server hello body is %d bytes", ErrMessageMalformed, len(data))
	}
	b := &ServerHelloBody{
		NodeID: binary.BigEndian.Uint16(data[KeyLength:]),
	}
	copy(b.PublicKey[:], data[:KeyLength])
	return b, nil
}

// DataBody is the plaintext of every encrypted data and control message,
// sealed with the session key, or with the broadcast key for the broadcast
// variants.
//
//	+-------------+--------------+---------------+
//	| counter (2) | encoding (1) | payload (var) |
//	+-------------+--------------+---------------+
type DataBody struct {
	Counter  uint16
	Encoding PayloadEncoding
	Payload  []byte
}

// Serialize converts the body to its wire form.
func (b *DataBody) Serialize() ([]byte, error) {
	if err := ValidateDataPayload(b.Payload); err != nil {
		return nil, err
	}
	out := make([]byte, dataHeaderLength+len(b.Payload))
	binary.BigEndian.PutUint16(out[0:2], b.Counter)
	out[2] = byte(b.Encoding)
	copy(out[dataHeaderLength:], b.Payload)
	return out, nil
}

// ParseDataBody parses the plaintext of a data message.
func ParseDataBody(data []byte) (*DataBody, error) {
	if len(data) < dataHeaderLength {
		return nil, fmt.Errorf("%w: data body is %d bytes", ErrMessageTooShort, len(data))
	}
	b := &DataBody{
		Counter:  binary.BigEndian.Uint16(data[0:2]),
		Encoding: PayloadEncoding(data[2]),
		Payload:  make([]byte, len(data)-dataHeaderLength),
	}
	copy(b.Payload, data[dataHeaderLength:])
	return b, nil
}

// UnencryptedDataMessage is the complete wire form of an UnencryptedData
// message. It has no envelope; the counter discipline still applies.
//
//	+------+-------------+--------------+---------------+
//	| 0x11 | counter (2) | encoding (1) | payload (var) |
//	+------+-------------+--------------+---------------+
type UnencryptedDataMessage struct {
	Counter  uint16
	Encoding PayloadEncoding
	Payload  []byte
}

// Serialize converts the message to its wire form.
func (m *UnencryptedDataMessage) Serialize() ([]byte, error) {
	if len(m.Payload) > MaxUnencryptedPayload {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrPayloadTooLarge, len(m.Payload), MaxUnencryptedPayload)
	}
	out := make([]byte, 1+dataHeaderLength+len(m.Payload))
	out[0] = byte(UnencryptedData)
	binary.BigEndian.PutUint16(out[1:3], m.Counter)
	out[3] = byte(m.Encoding)
	copy(out[4:], m.Payload)
	return out, nil
}

// ParseUnencryptedDataMessage parses a complete UnencryptedData message.
func ParseUnencryptedDataMessage(data []byte) (*UnencryptedDataMessage, error) {
	if len(data) < 1+dataHeaderLength {
		return nil, fmt.Errorf("%w: unencrypted data is %d bytes", ErrMessageTooShort, len(data))
	}
	if MessageType(data[0]) != UnencryptedData {
		return nil, fmt.Errorf("%w: type 0x%02X is not UNENCRYPTED_DATA", ErrMessageMalformed, data[0])
	}
	m := &UnencryptedDataMessage{
		Counter:  binary.BigEndian.Uint16(data[1:3]),
		Encoding: PayloadEncoding(data[3]),
		Payload:  make([]byte, len(data)-4),
	}
	copy(m.Payload, data[4:])
	return m, nil
}

// ClockRequestBody is the plaintext of a ClockRequest, sealed with the
// session key. T1 is the node's transmit time in milliseconds.
//
//	+---------+
//	| t1 (8)  |
//	+---------+
type ClockRequestBody struct {
	T1 uint64
}

// Serialize converts the body to its wire form.
func (b *ClockRequestBody) Serialize() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, b.T1)
	return out
}

// ParseClockRequestBody parses the plaintext of a ClockRequest.
func ParseClockRequestBody(data []byte) (*ClockRequestBody, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("%w: clock request body is %d bytes", ErrMessageMalformed, len(data))
	}
	return &ClockRequestBody{T1: binary.BigEndian.Uint64(data)}, nil
}

// ClockResponseBody is the plaintext of a ClockResponse: the node's T1
// echoed back next to the gateway's receipt time T2, both in milliseconds.
//
//	+---------+---------+
//	| t1 (8)  | t2 (8)  |
//	+---------+---------+
type ClockResponseBody struct {
	T1 uint64
	T2 uint64
}

// Serialize converts the body to its wire form.
func (b *ClockResponseBody) Serialize() []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], b.T1)
	binary.BigEndian.PutUint64(out[8:16], b.T2)
	return out
}

// ParseClockResponseBody parses the plaintext of a ClockResponse.
func ParseClockResponseBody(data []byte) (*ClockResponseBody, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("%w: clock response body is %d bytes", ErrMessageMalformed, len(data))
	}
	return &ClockResponseBody{
		T1: binary.BigEndian.Uint64(data[0:8]),
		T2: binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// NameSetBody is the plaintext of a NodeNameSet: the requested name, UTF-8,
// between 1 and MaxNodeNameLength bytes. Validation beyond the frame bounds
// happens in the engine so a result code can always be answered.
//
//	+-------------+
//	| name (var)  |
//	+-------------+
type NameSetBody struct {
	Name string
}

// Serialize converts the body to its wire form.
func (b *NameSetBody) Serialize() []byte {
	return []byte(b.Name)
}

// ParseNameSetBody parses the plaintext of a NodeNameSet. Only emptiness is
// rejected here; length and uniqueness are engine concerns.
func ParseNameSetBody(data []byte) (*NameSetBody, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty name body", ErrMessageMalformed)
	}
	return &NameSetBody{Name: string(data)}, nil
}

// NameResultBody is the plaintext of a NodeNameResult.
//
//	+-----------+
//	| code (1)  |
//	+-----------+
type NameResultBody struct {
	Code NameResultCode
}

// Serialize converts the body to its wire form.
func (b *NameResultBody) Serialize() []byte {
	return []byte{byte(b.Code)}
}

// ParseNameResultBody parses the plaintext of a NodeNameResult.
func ParseNameResultBody(data []byte) (*NameResultBody, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("%w: name result body is %d bytes", ErrMessageMalformed, len(data))
	}
	return &NameResultBody{Code: NameResultCode(data[0])}, nil
}

// BroadcastKeyBody is the plaintext of a BroadcastKeyResponse, sealed with
// the session key. A BroadcastKeyRequest has an empty plaintext; the
// envelope's tag alone authenticates it.
//
//	+-----------+
//	| key (32)  |
//	+-----------+
type BroadcastKeyBody struct {
	Key [KeyLength]byte
}

// Serialize converts the body to its wire form.
func (b *BroadcastKeyBody) Serialize() []byte {
	out := make([]byte, KeyLength)
	copy(out, b.Key[:])
	return out
}

// ParseBroadcastKeyBody parses the plaintext of a BroadcastKeyResponse.
func ParseBroadcastKeyBody(data []byte) (*BroadcastKeyBody, error) {
	if len(data) != KeyLength {
		return nil, fmt.Errorf("%w: broadcast key body is %d bytes", ErrMessageMalformed, len(data))
	}
	b := &BroadcastKeyBody{}
	copy(b.Key[:], data)
	return b, nil
}

// InvalidateKeyMessage is the complete wire form of an InvalidateKey notice.
// It travels in the clear: the recipient's key state is exactly what may be
// broken, so it must stay parseable without one.
//
//	+------+------------+
//	| 0xFB | reason (1) |
//	+------+------------+
type InvalidateKeyMessage struct {
	Reason InvalidateReason
}

// Serialize converts the message to its wire form.
func (m *InvalidateKeyMessage) Serialize() []byte {
	return []byte{byte(InvalidateKey), byte(m.Reason)}
}

// ParseInvalidateKeyMessage parses a complete InvalidateKey message. The
// layout is exactly two bytes; anything else is rejected.
func ParseInvalidateKeyMessage(data []byte) (*InvalidateKeyMessage, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("%w: invalidate key is %d bytes", ErrMessageMalformed, len(data))
	}
	if MessageType(data[0]) != InvalidateKey {
		return nil, fmt.Errorf("%w: type 0x%02X is not INVALIDATE_KEY", ErrMessageMalformed, data[0])
	}
	return &InvalidateKeyMessage{Reason: InvalidateReason(data[1])}, nil
}
