// Package node tracks the gateway's per-node session state: registration
// status, session keys, message counters and traffic tallies.
//
// The Registry owns all synchronization. State-changing methods are meant to
// be called from the gateway's processing loop; read methods return copies
// and are safe from any goroutine, which is how the REST surface observes
// sessions without racing the loop.
package node

import (
	"time"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/protocol"
)

// Status is the registration state of a node session.
type Status int

const (
	// StatusUnregistered marks a slot with no agreed key. Sessions never
	// stay in this state; it is the ground state before and after a session.
	StatusUnregistered Status = iota

	// StatusKeyAgreed marks a completed key agreement. The node has a fresh
	// session key but has not sent authenticated data with it yet.
	StatusKeyAgreed

	// StatusRegistered marks a session whose key has carried at least one
	// authenticated data message.
	StatusRegistered
)

// String returns a short name for the status, for logs.
func (s Status) String() string {
	switch s {
	case StatusKeyAgreed:
		return "KEY_AGREED"
	case StatusRegistered:
		return "REGISTERED"
	}
	return "UNREGISTERED"
}

// Node is a snapshot of one session. Read methods of the Registry return
// copies of this struct; mutating a copy has no effect on the session.
type Node struct {
	ID   uint16
	Addr protocol.Address
	Name string

	Status Status
	Sleepy bool

	// SessionKey is the symmetric key agreed in the handshake.
	SessionKey [crypto.KeyLength]byte

	// BroadcastKeyDelivered records that the shared broadcast key reached
	// this node during its current session.
	BroadcastKeyDelivered bool

	// LastCounter is the highest message counter accepted from the node in
	// its current session. Counters restart at one after each handshake.
	LastCounter uint16

	// SendCounter is the counter of the last downstream message sent to the
	// node in its current session.
	SendCounter uint16

	// KeyAgreedAt is when the current session key was agreed; session expiry
	// measures from here.
	KeyAgreedAt time.Time

	// LastSeen is the time of the last accepted message of any kind.
	LastSeen time.Time

	// PacketsTotal counts accepted data messages plus the gaps their
	// counters revealed. PacketsError counts only the gaps, so the pair
	// yields the packet error rate.
	PacketsTotal uint32
	PacketsError uint32

	// SendFailures counts downstream messages the transport reported as
	// undelivered.
	SendFailures uint32
}

// Registered reports whether the session has a usable key.
func (n *Node) Registered() bool {
	return n.Status == StatusKeyAgreed || n.Status == StatusRegistered
}

// PER returns the packet error rate observed for this session, between 0
// and 1.
func (n *Node) PER() float64 {
	if n.PacketsTotal == 0 {
		return 0
	}
	return float64(n.PacketsError) / float64(n.PacketsTotal)
}

// PacketsPerHour returns the observed packet rate since the key agreement,
// using now as the reference clock.
func (n *Node) PacketsPerHour(now time.Time) float64 {
	elapsed := now.Sub(n.KeyAgreedAt)
	if elapsed <= 0 {
		return 0
	}
	return float64(n.PacketsTotal) / elapsed.Hours()
}
