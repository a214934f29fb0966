// Package transport defines the link abstraction the gateway engine speaks
// over, together with three implementations: an in-process hub for tests and
// demos, a UDP transport for LAN deployments, and a Noise-IK wrapper that
// adds per-peer link encryption to any of them.
//
// A transport moves opaque frames between six-byte addresses. Delivery is
// fire-and-forget: Send either rejects synchronously or accepts the frame,
// and an optional status callback later reports what became of it.
package transport

import (
	"errors"

	"github.com/opd-ai/meshgate/protocol"
)

// SendStatus reports the fate of an accepted frame.
type SendStatus int

const (
	// SendOK means the link layer confirmed transmission.
	SendOK SendStatus = iota
	// SendFailed means the link layer gave up on the frame.
	SendFailed
)

// String returns a short name for the status, for logs.
func (s SendStatus) String() string {
	if s == SendOK {
		return "OK"
	}
	return "FAILED"
}

// ReceiveHandler consumes one inbound frame. It runs on the transport's
// receive context and must not block; copy the data if it outlives the call.
type ReceiveHandler func(from protocol.Address, data []byte)

// SendStatusHandler consumes asynchronous delivery reports. Transports are
// free to never call it.
type SendStatusHandler func(to protocol.Address, status SendStatus)

// Transport is the link the gateway engine sends and receives frames on.
type Transport interface {
	// Send transmits a frame to the given address. A nil error means the
	// frame was accepted, not that it was delivered.
	Send(to protocol.Address, data []byte) error

	// SetReceiveHandler registers the single inbound frame consumer.
	SetReceiveHandler(handler ReceiveHandler)

	// SetSendStatusHandler registers the delivery report consumer.
	SetSendStatusHandler(handler SendStatusHandler)

	// LocalAddress returns the transport's own address.
	LocalAddress() protocol.Address

	// Close shuts the transport down.
	Close() error
}

// MaxLinkFrame is the largest frame a transport accepts. It leaves room
// above the protocol's message limit for link-layer encryption overhead.
const MaxLinkFrame = 512

var (
	// ErrUnknownPeer indicates a destination address with no known endpoint.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrTransportClosed indicates an operation on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrFrameTooLarge indicates a frame exceeding MaxLinkFrame.
	ErrFrameTooLarge = errors.New("frame too large")
)
