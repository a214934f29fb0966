// Package protocol defines the wire-visible vocabulary of the sensor network:
// node addresses, message type codes, invalidation reasons, payload encodings,
// and the binary layouts of every message the gateway sends or receives.
//
// All multi-byte integer fields are big-endian. Encrypted messages share a
// common envelope described in messages.go.
//
// Example:
//
//	frame := protocol.NewFrame(addr, raw)
//	if !frame.Type().Valid() {
//	    log.Printf("unknown message type 0x%02X", raw[0])
//	}
package protocol

// MessageType identifies the type of a network message. It is always the
// first byte on the wire.
type MessageType byte

const (
	// SensorData carries encrypted sensor payload from a node to the gateway.
	SensorData MessageType = 0x01
	// SensorBroadcastData carries encrypted sensor payload sent by a node to
	// the broadcast address, protected with the shared broadcast key.
	SensorBroadcastData MessageType = 0x81
	// UnencryptedData carries plaintext sensor payload from a node. It skips
	// the encrypted envelope but keeps the counter discipline.
	UnencryptedData MessageType = 0x11

	// DownstreamSet pushes a value from the gateway to one node.
	DownstreamSet MessageType = 0x02
	// DownstreamBroadcastSet pushes a value from the gateway to all nodes.
	DownstreamBroadcastSet MessageType = 0x82
	// DownstreamGet requests a value from one node.
	DownstreamGet MessageType = 0x12
	// DownstreamBroadcastGet requests a value from all nodes.
	DownstreamBroadcastGet MessageType = 0x92

	// ControlData carries a control payload from a node to the gateway.
	ControlData MessageType = 0x03
	// DownstreamControl carries a control payload from the gateway to one node.
	DownstreamControl MessageType = 0x04
	// DownstreamBroadcastControl carries a control payload to all nodes.
	DownstreamBroadcastControl MessageType = 0x84

	// ClockRequest asks the gateway for its clock, carrying the node's
	// transmit timestamp.
	ClockRequest MessageType = 0x05
	// ClockResponse echoes the node's timestamp next to the gateway's own.
	ClockResponse MessageType = 0x06

	// NodeNameSet asks the gateway to bind a human-readable name to the node.
	NodeNameSet MessageType = 0x07
	// NodeNameResult answers a NodeNameSet with a result code.
	NodeNameResult MessageType = 0x17

	// BroadcastKeyRequest asks the gateway for the shared broadcast key.
	BroadcastKeyRequest MessageType = 0x08
	// BroadcastKeyResponse delivers the shared broadcast key to a node.
	BroadcastKeyResponse MessageType = 0x18

	// ClientHello opens a key agreement, carrying the node's public key under
	// the network key.
	ClientHello MessageType = 0xFF
	// ServerHello answers a ClientHello with the gateway's public key.
	ServerHello MessageType = 0xFE
	// InvalidateKey tells a node its session is terminated and why.
	InvalidateKey MessageType = 0xFB
)

// String returns a short name for the message type, for logs.
func (t MessageType) String() string {
	switch t {
	case SensorData:
		return "SENSOR_DATA"
	case SensorBroadcastData:
		return "SENSOR_BRCAST_DATA"
	case UnencryptedData:
		return "UNENCRYPTED_DATA"
	case DownstreamSet:
		return "DOWNSTREAM_SET"
	case DownstreamBroadcastSet:
		return "DOWNSTREAM_BRCAST_SET"
	case DownstreamGet:
		return "DOWNSTREAM_GET"
	case DownstreamBroadcastGet:
		return "DOWNSTREAM_BRCAST_GET"
	case ControlData:
		return "CONTROL_DATA"
	case DownstreamControl:
		return "DOWNSTREAM_CTRL"
	case DownstreamBroadcastControl:
		return "DOWNSTREAM_BRCAST_CTRL"
	case ClockRequest:
		return "CLOCK_REQUEST"
	case ClockResponse:
		return "CLOCK_RESPONSE"
	case NodeNameSet:
		return "NODE_NAME_SET"
	case NodeNameResult:
		return "NODE_NAME_RESULT"
	case BroadcastKeyRequest:
		return "BROADCAST_KEY_REQUEST"
	case BroadcastKeyResponse:
		return "BROADCAST_KEY_RESPONSE"
	case ClientHello:
		return "CLIENT_HELLO"
	case ServerHello:
		return "SERVER_HELLO"
	case InvalidateKey:
		return "INVALIDATE_KEY"
	}
	return "UNKNOWN"
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t.String() != "UNKNOWN"
}

// IsBroadcast reports whether t is one of the broadcast data variants, which
// are protected with the shared broadcast key instead of a session key.
func (t MessageType) IsBroadcast() bool {
	switch t {
	case SensorBroadcastData, DownstreamBroadcastSet, DownstreamBroadcastGet, DownstreamBroadcastControl:
		return true
	}
	return false
}

// IsControl reports whether t carries a control payload rather than sensor
// data. Control payloads are opaque to the gateway engine; only the tag is
// classified.
func (t MessageType) IsControl() bool {
	switch t {
	case ControlData, DownstreamControl, DownstreamBroadcastControl:
		return true
	}
	return false
}

// IsGatewayOriginated reports whether t is only ever sent by the gateway.
// Receiving one of these from a node is a protocol violation.
func (t MessageType) IsGatewayOriginated() bool {
	switch t {
	case ServerHello, InvalidateKey, ClockResponse, NodeNameResult, BroadcastKeyResponse,
		DownstreamSet, DownstreamBroadcastSet, DownstreamGet, DownstreamBroadcastGet,
		DownstreamControl, DownstreamBroadcastControl:
		return true
	}
	return false
}

// InvalidateReason explains why the gateway terminated a session. It is the
// second byte of an InvalidateKey message.
type InvalidateReason byte

const (
	// ReasonUnknown is the catch-all termination reason.
	ReasonUnknown InvalidateReason = 0x00
	// ReasonWrongClientHello marks a ClientHello that failed authentication.
	ReasonWrongClientHello InvalidateReason = 0x01
	// ReasonWrongData marks a data message that failed decryption or
	// authentication under the agreed session key.
	ReasonWrongData InvalidateReason = 0x03
	// ReasonUnregisteredNode tells a sender it has no session and must
	// re-run the key agreement.
	ReasonUnregisteredNode InvalidateReason = 0x04
	// ReasonKeyExpired marks a session that exceeded the maximum key age.
	ReasonKeyExpired InvalidateReason = 0x05
	// ReasonKicked marks an operator-initiated termination.
	ReasonKicked InvalidateReason = 0x06
)

// String returns a short name for the invalidation reason, for logs.
func (r InvalidateReason) String() string {
	switch r {
	case ReasonUnknown:
		return "UNKNOWN_ERROR"
	case ReasonWrongClientHello:
		return "WRONG_CLIENT_HELLO"
	case ReasonWrongData:
		return "WRONG_DATA"
	case ReasonUnregisteredNode:
		return "UNREGISTERED_NODE"
	case ReasonKeyExpired:
		return "KEY_EXPIRED"
	case ReasonKicked:
		return "KICKED"
	}
	return "UNKNOWN"
}

// PayloadEncoding tags how a data payload is serialized. The gateway never
// interprets payload bytes; the tag travels with the payload so consumers can
// decode it.
type PayloadEncoding byte

const (
	EncodingRaw        PayloadEncoding = 0x00
	EncodingCayenneLPP PayloadEncoding = 0x81
	EncodingProtoBuf   PayloadEncoding = 0x82
	EncodingMsgPack    PayloadEncoding = 0x83
	EncodingBSON       PayloadEncoding = 0x84
	EncodingCBOR       PayloadEncoding = 0x85
	EncodingSMILE      PayloadEncoding = 0x86
	// EncodingNative is the network's own structured encoding.
	EncodingNative PayloadEncoding = 0xFF
)

// String returns a short name for the payload encoding, for logs.
func (e PayloadEncoding) String() string {
	switch e {
	case EncodingRaw:
		return "RAW"
	case EncodingCayenneLPP:
		return "CAYENNELPP"
	case EncodingProtoBuf:
		return "PROT_BUF"
	case EncodingMsgPack:
		return "MSG_PACK"
	case EncodingBSON:
		return "BSON"
	case EncodingCBOR:
		return "CBOR"
	case EncodingSMILE:
		return "SMILE"
	case EncodingNative:
		return "NATIVE"
	}
	return "UNKNOWN"
}

// NameResultCode is the signed result byte of a NodeNameResult message.
type NameResultCode int8

const (
	// NameOK reports the name was bound to the node.
	NameOK NameResultCode = 0
	// NameAlreadyUsed reports the name belongs to another node.
	NameAlreadyUsed NameResultCode = -1
	// NameTooLong reports the name exceeds MaxNodeNameLength.
	NameTooLong NameResultCode = -2
	// NameEmpty reports an empty name.
	NameEmpty NameResultCode = -3
	// NameMessageError reports a malformed NodeNameSet message.
	NameMessageError NameResultCode = -4
)

// String returns a short name for the result code, for logs.
func (c NameResultCode) String() string {
	switch c {
	case NameOK:
		return "OK"
	case NameAlreadyUsed:
		return "ALREADY_USED"
	case NameTooLong:
		return "TOO_LONG"
	case NameEmpty:
		return "EMPTY"
	case NameMessageError:
		return "MESSAGE_ERROR"
	}
	return "UNKNOWN"
}
