package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/protocol"
)

// UDPTransport carries frames over UDP datagrams, standing in for the radio
// on LAN deployments. Every datagram is prefixed with the sender's six-byte
// address so receivers can map logical addresses to UDP endpoints:
//
//	+---------------------+---------------+
//	| sender address (6)  | frame (var)   |
//	+---------------------+---------------+
//
// Peer endpoints are learned from inbound traffic and can be seeded with
// AddPeer. A frame to the broadcast address fans out to every known peer.
type UDPTransport struct {
	conn  net.PacketConn
	local protocol.Address

	mu        sync.RWMutex
	peers     map[protocol.Address]net.Addr
	onReceive ReceiveHandler
	onStatus  SendStatusHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewUDPTransport binds a UDP listener and starts its receive loop. The
// local address identifies this endpoint to its peers.
func NewUDPTransport(listenAddr string, local protocol.Address) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		conn:   conn,
		local:  local,
		peers:  make(map[protocol.Address]net.Addr),
		ctx:    ctx,
		cancel: cancel,
	}

	go t.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPTransport",
		"listen":   conn.LocalAddr().String(),
		"address":  local.String(),
	}).Info("UDP transport listening")

	return t, nil
}

// AddPeer seeds the peer table with a known endpoint.
func (t *UDPTransport) AddPeer(addr protocol.Address, endpoint string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", endpoint, err)
	}

	t.mu.Lock()
	t.peers[addr] = udpAddr
	t.mu.Unlock()
	return nil
}

// Send transmits a frame, fanning out to all known peers for the broadcast
// address. Unicast to an address with no known endpoint is rejected.
func (t *UDPTransport) Send(to protocol.Address, data []byte) error {
	if len(data) > MaxLinkFrame {
		return ErrFrameTooLarge
	}

	datagram := make([]byte, protocol.AddressLength+len(data))
	copy(datagram, t.local[:])
	copy(datagram[protocol.AddressLength:], data)

	t.mu.RLock()
	status := t.onStatus
	var targets []net.Addr
	if to.IsBroadcast() {
		for _, ep := range t.peers {
			targets = append(targets, ep)
		}
	} else if ep, ok := t.peers[to]; ok {
		targets = append(targets, ep)
	}
	t.mu.RUnlock()

	if len(targets) == 0 && !to.IsBroadcast() {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}

	var lastErr error
	for _, ep := range targets {
		if _, err := t.conn.WriteTo(datagram, ep); err != nil {
			lastErr = err
		}
	}

	if status != nil {
		if lastErr != nil {
			status(to, SendFailed)
		} else {
			status(to, SendOK)
		}
	}
	return lastErr
}

// SetReceiveHandler registers the inbound frame consumer.
func (t *UDPTransport) SetReceiveHandler(handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReceive = handler
}

// SetSendStatusHandler registers the delivery report consumer.
func (t *UDPTransport) SetSendStatusHandler(handler SendStatusHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = handler
}

// LocalAddress returns the transport's logical address.
func (t *UDPTransport) LocalAddress() protocol.Address {
	return t.local
}

// Close stops the receive loop and closes the socket.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// readLoop receives datagrams until the transport closes.
func (t *UDPTransport) readLoop() {
	buffer := make([]byte, protocol.AddressLength+MaxLinkFrame)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.readOne(buffer)
		}
	}
}

// readOne reads and dispatches a single datagram, with a short deadline so
// the loop notices Close.
func (t *UDPTransport) readOne(buffer []byte) {
	_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, ep, err := t.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		return
	}
	if n < protocol.AddressLength {
		logrus.WithFields(logrus.Fields{
			"function": "readOne",
			"length":   n,
		}).Debug("Dropping datagram shorter than the address header")
		return
	}

	var from protocol.Address
	copy(from[:], buffer[:protocol.AddressLength])

	frame := make([]byte, n-protocol.AddressLength)
	copy(frame, buffer[protocol.AddressLength:n])

	// Learn or refresh the sender's endpoint.
	t.mu.Lock()
	t.peers[from] = ep
	handler := t.onReceive
	t.mu.Unlock()

	if handler != nil {
		handler(from, frame)
	}
}
