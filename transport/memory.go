package transport

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/protocol"
)

// MemoryHub connects in-process endpoints by address, standing in for the
// radio during tests and demos. Delivery happens synchronously on the
// sender's goroutine.
type MemoryHub struct {
	mu        sync.RWMutex
	endpoints map[protocol.Address]*MemoryTransport
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{endpoints: make(map[protocol.Address]*MemoryTransport)}
}

// Endpoint returns the transport bound to an address, creating it on first
// use.
func (h *MemoryHub) Endpoint(addr protocol.Address) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.endpoints[addr]; ok {
		return t
	}
	t := &MemoryTransport{hub: h, addr: addr}
	h.endpoints[addr] = t
	return t
}

// remove detaches a closed endpoint.
func (h *MemoryHub) remove(addr protocol.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, addr)
}

// deliver routes a frame to its destination, fanning out on the broadcast
// address. It reports whether at least one endpoint received the frame.
func (h *MemoryHub) deliver(from, to protocol.Address, data []byte) bool {
	h.mu.RLock()
	var targets []*MemoryTransport
	if to.IsBroadcast() {
		for addr, t := range h.endpoints {
			if addr != from {
				targets = append(targets, t)
			}
		}
	} else if t, ok := h.endpoints[to]; ok {
		targets = append(targets, t)
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.receive(from, data)
	}
	return len(targets) > 0
}

// MemoryTransport is one endpoint of a MemoryHub.
type MemoryTransport struct {
	hub  *MemoryHub
	addr protocol.Address

	mu        sync.RWMutex
	onReceive ReceiveHandler
	onStatus  SendStatusHandler
	closed    bool
}

// Send routes the frame through the hub. Frames to unknown unicast
// addresses are accepted and reported as failed through the status handler,
// mirroring how a radio only learns about a missing peer after transmitting.
func (t *MemoryTransport) Send(to protocol.Address, data []byte) error {
	t.mu.RLock()
	closed := t.closed
	status := t.onStatus
	t.mu.RUnlock()

	if closed {
		return ErrTransportClosed
	}
	if len(data) > MaxLinkFrame {
		return ErrFrameTooLarge
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	delivered := t.hub.deliver(t.addr, to, buf)
	if status != nil {
		if delivered {
			status(to, SendOK)
		} else {
			status(to, SendFailed)
		}
	}
	return nil
}

// receive hands an inbound frame to the registered handler.
func (t *MemoryTransport) receive(from protocol.Address, data []byte) {
	t.mu.RLock()
	handler := t.onReceive
	closed := t.closed
	t.mu.RUnlock()

	if closed || handler == nil {
		logrus.WithFields(logrus.Fields{
			"function": "receive",
			"endpoint": t.addr.String(),
		}).Debug("Dropping frame for endpoint without handler")
		return
	}
	handler(from, data)
}

// SetReceiveHandler registers the inbound frame consumer.
func (t *MemoryTransport) SetReceiveHandler(handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReceive = handler
}

// SetSendStatusHandler registers the delivery report consumer.
func (t *MemoryTransport) SetSendStatusHandler(handler SendStatusHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = handler
}

// LocalAddress returns the endpoint's address.
func (t *MemoryTransport) LocalAddress() protocol.Address {
	return t.addr
}

// Close detaches the endpoint from the hub.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.hub.remove(t.addr)
	return nil
}
