package transport

import (
	"sync"
	"testing"

	"github.com/opd-ai/meshgate/protocol"
)

type recorder struct {
	mu     sync.Mutex
	frames []struct {
		from protocol.Address
		data []byte
	}
	statuses []struct {
		to     protocol.Address
		status SendStatus
	}
}

func (r *recorder) onReceive(from protocol.Address, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	r.frames = append(r.frames, struct {
		from protocol.Address
		data []byte
	}{from, buf})
}

func (r *recorder) onStatus(to protocol.Address, status SendStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, struct {
		to     protocol.Address
		status SendStatus
	}{to, status})
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func memAddr(last byte) protocol.Address {
	return protocol.Address{0x02, 0x00, 0x00, 0x00, 0x00, last}
}

func TestMemoryUnicast(t *testing.T) {
	hub := NewMemoryHub()
	a := hub.Endpoint(memAddr(1))
	b := hub.Endpoint(memAddr(2))

	var rec recorder
	b.SetReceiveHandler(rec.onReceive)

	if err := a.Send(memAddr(2), []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	if rec.frameCount() != 1 {
		t.Fatalf("received %d frames", rec.frameCount())
	}
	if rec.frames[0].from != memAddr(1) || string(rec.frames[0].data) != "hello" {
		t.Errorf("frame = %v %q", rec.frames[0].from, rec.frames[0].data)
	}
}

func TestMemoryBroadcast(t *testing.T) {
	hub := NewMemoryHub()
	a := hub.Endpoint(memAddr(1))

	var recB, recC recorder
	hub.Endpoint(memAddr(2)).SetReceiveHandler(recB.onReceive)
	hub.Endpoint(memAddr(3)).SetReceiveHandler(recC.onReceive)

	var recA recorder
	a.SetReceiveHandler(recA.onReceive)

	if err := a.Send(protocol.Broadcast, []byte("all")); err != nil {
		t.Fatalf("send: %v", err)
	}

	if recB.frameCount() != 1 || recC.frameCount() != 1 {
		t.Errorf("fan-out reached %d and %d endpoints", recB.frameCount(), recC.frameCount())
	}
	if recA.frameCount() != 0 {
		t.Error("broadcast echoed back to the sender")
	}
}

func TestMemorySendStatus(t *testing.T) {
	hub := NewMemoryHub()
	a := hub.Endpoint(memAddr(1))
	hub.Endpoint(memAddr(2)).SetReceiveHandler(func(protocol.Address, []byte) {})

	var rec recorder
	a.SetSendStatusHandler(rec.onStatus)

	if err := a.Send(memAddr(2), []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	// A peer that was never attached: the frame is accepted and the
	// failure arrives through the status callback.
	if err := a.Send(memAddr(9), []byte("x")); err != nil {
		t.Fatalf("send to unknown peer rejected synchronously: %v", err)
	}

	if len(rec.statuses) != 2 {
		t.Fatalf("got %d status reports", len(rec.statuses))
	}
	if rec.statuses[0].status != SendOK {
		t.Errorf("first status = %s", rec.statuses[0].status)
	}
	if rec.statuses[1].status != SendFailed || rec.statuses[1].to != memAddr(9) {
		t.Errorf("second status = %s to %s", rec.statuses[1].status, rec.statuses[1].to)
	}
}

func TestMemoryClose(t *testing.T) {
	hub := NewMemoryHub()
	a := hub.Endpoint(memAddr(1))
	b := hub.Endpoint(memAddr(2))

	var rec recorder
	b.SetReceiveHandler(rec.onReceive)

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := a.Send(memAddr(2), []byte("late")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.frameCount() != 0 {
		t.Error("closed endpoint still received a frame")
	}

	if err := b.Send(memAddr(1), []byte("x")); err != ErrTransportClosed {
		t.Errorf("send on closed endpoint = %v", err)
	}
}

func TestMemoryFrameLimit(t *testing.T) {
	hub := NewMemoryHub()
	a := hub.Endpoint(memAddr(1))

	if err := a.Send(memAddr(2), make([]byte, MaxLinkFrame+1)); err != ErrFrameTooLarge {
		t.Errorf("oversize frame = %v", err)
	}
}
