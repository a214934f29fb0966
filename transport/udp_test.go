package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/meshgate/protocol"
)

type udpFrame struct {
	from protocol.Address
	data []byte
}

func newUDPPair(t *testing.T) (*UDPTransport, *UDPTransport, protocol.Address, protocol.Address) {
	t.Helper()

	addrA := protocol.Address{0x02, 0x00, 0x00, 0x00, 0x00, 0x0A}
	addrB := protocol.Address{0x02, 0x00, 0x00, 0x00, 0x00, 0x0B}

	a, err := NewUDPTransport("127.0.0.1:0", addrA)
	if err != nil {
		t.Fatalf("transport a: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err := NewUDPTransport("127.0.0.1:0", addrB)
	if err != nil {
		t.Fatalf("transport b: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	return a, b, addrA, addrB
}

func awaitFrame(t *testing.T, ch <-chan udpFrame) udpFrame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return udpFrame{}
	}
}

func TestUDPExchange(t *testing.T) {
	a, b, addrA, addrB := newUDPPair(t)

	framesA := make(chan udpFrame, 4)
	framesB := make(chan udpFrame, 4)
	a.SetReceiveHandler(func(from protocol.Address, data []byte) {
		framesA <- udpFrame{from, data}
	})
	b.SetReceiveHandler(func(from protocol.Address, data []byte) {
		framesB <- udpFrame{from, data}
	})

	if err := a.AddPeer(addrB, b.conn.LocalAddr().String()); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	if err := a.Send(addrB, []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := awaitFrame(t, framesB)
	if got.from != addrA || string(got.data) != "ping" {
		t.Fatalf("frame = %v %q", got.from, got.data)
	}

	// B never called AddPeer: A's endpoint was learned from the inbound
	// datagram's address header.
	if err := b.Send(addrA, []byte("pong")); err != nil {
		t.Fatalf("reply: %v", err)
	}
	got = awaitFrame(t, framesA)
	if got.from != addrB || string(got.data) != "pong" {
		t.Fatalf("reply frame = %v %q", got.from, got.data)
	}
}

func TestUDPUnknownPeer(t *testing.T) {
	a, _, _, _ := newUDPPair(t)

	err := a.Send(protocol.Address{0x02, 0, 0, 0, 0, 0x99}, []byte("x"))
	if !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("send to unknown peer = %v", err)
	}
}

func TestUDPBroadcastWithoutPeers(t *testing.T) {
	a, _, _, _ := newUDPPair(t)

	// Broadcast with an empty peer table is a quiet no-op rather than an
	// error, matching radio semantics.
	if err := a.Send(protocol.Broadcast, []byte("x")); err != nil {
		t.Errorf("broadcast with no peers = %v", err)
	}
}

func TestUDPLocalAddress(t *testing.T) {
	a, _, addrA, _ := newUDPPair(t)
	if a.LocalAddress() != addrA {
		t.Errorf("LocalAddress = %v", a.LocalAddress())
	}
}
