package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/protocol"
)

func newSecurePair(t *testing.T) (*SecureTransport, *SecureTransport, protocol.Address, protocol.Address) {
	t.Helper()

	hub := NewMemoryHub()
	gwAddr := memAddr(0x10)
	nodeAddr := memAddr(0x20)

	gwKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	nodeKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	gw, err := NewSecureTransport(hub.Endpoint(gwAddr), gwKeys)
	require.NoError(t, err)
	node, err := NewSecureTransport(hub.Endpoint(nodeAddr), nodeKeys)
	require.NoError(t, err)

	node.AddPeer(gwAddr, gwKeys.Public)
	return gw, node, gwAddr, nodeAddr
}

func TestSecureTransparentHandshake(t *testing.T) {
	gw, node, gwAddr, nodeAddr := newSecurePair(t)

	var gwRec, nodeRec recorder
	gw.SetReceiveHandler(gwRec.onReceive)
	node.SetReceiveHandler(nodeRec.onReceive)

	// First send runs the handshake under the hood and flushes the
	// queued frame; the hub is synchronous, so the plaintext arrives
	// before Send returns.
	require.NoError(t, node.Send(gwAddr, []byte("ping")))
	require.Equal(t, 1, gwRec.frameCount())
	assert.Equal(t, nodeAddr, gwRec.frames[0].from)
	assert.Equal(t, []byte("ping"), gwRec.frames[0].data)

	// The responder got its session from the inbound handshake and can
	// reply without ever calling AddPeer.
	require.NoError(t, gw.Send(nodeAddr, []byte("pong")))
	require.Equal(t, 1, nodeRec.frameCount())
	assert.Equal(t, []byte("pong"), nodeRec.frames[0].data)

	// The established session carries follow-up traffic in order.
	require.NoError(t, node.Send(gwAddr, []byte("two")))
	require.NoError(t, node.Send(gwAddr, []byte("three")))
	require.Equal(t, 3, gwRec.frameCount())
	assert.Equal(t, []byte("two"), gwRec.frames[1].data)
	assert.Equal(t, []byte("three"), gwRec.frames[2].data)
}

func TestSecureNoPeerKey(t *testing.T) {
	_, node, _, _ := newSecurePair(t)

	err := node.Send(memAddr(0x77), []byte("x"))
	assert.True(t, errors.Is(err, ErrNoPeerKey))
}

func TestSecureBrokenFramesDropped(t *testing.T) {
	gw, node, gwAddr, nodeAddr := newSecurePair(t)

	var gwRec recorder
	gw.SetReceiveHandler(gwRec.onReceive)
	require.NoError(t, node.Send(gwAddr, []byte("ping")))
	require.Equal(t, 1, gwRec.frameCount())

	// A record that fails authentication never reaches the handler.
	gw.handleLinkFrame(nodeAddr, []byte{linkRecord, 0xDE, 0xAD, 0xBE, 0xEF})
	assert.Equal(t, 1, gwRec.frameCount())

	// Records from peers with no session are dropped too.
	gw.handleLinkFrame(memAddr(0x66), []byte{linkRecord, 0x01, 0x02})
	assert.Equal(t, 1, gwRec.frameCount())

	// Unknown discriminators and empty frames are ignored.
	gw.handleLinkFrame(nodeAddr, []byte{0x7F, 0x00})
	gw.handleLinkFrame(nodeAddr, nil)
	assert.Equal(t, 1, gwRec.frameCount())

	// The session survives the garbage.
	require.NoError(t, node.Send(gwAddr, []byte("still here")))
	require.Equal(t, 2, gwRec.frameCount())
	assert.Equal(t, []byte("still here"), gwRec.frames[1].data)
}

// blackholeTransport accepts every frame and delivers none, keeping
// handshakes permanently in flight.
type blackholeTransport struct {
	addr protocol.Address
}

func (b *blackholeTransport) Send(protocol.Address, []byte) error {
	return nil
}

func (b *blackholeTransport) SetReceiveHandler(ReceiveHandler) {}

func (b *blackholeTransport) SetSendStatusHandler(SendStatusHandler) {}

func (b *blackholeTransport) LocalAddress() protocol.Address {
	return b.addr
}

func (b *blackholeTransport) Close() error {
	return nil
}

func TestSecurePendingOverflow(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	st, err := NewSecureTransport(&blackholeTransport{addr: memAddr(1)}, keys)
	require.NoError(t, err)

	peer := memAddr(2)
	st.AddPeer(peer, peerKeys.Public)

	for i := 0; i < pendingLimit; i++ {
		require.NoError(t, st.Send(peer, []byte{byte(i)}))
	}
	err = st.Send(peer, []byte("overflow"))
	assert.True(t, errors.Is(err, ErrPendingOverflow))
}

func TestSecureNilArguments(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = NewSecureTransport(nil, keys)
	assert.Error(t, err)

	_, err = NewSecureTransport(&blackholeTransport{}, nil)
	assert.Error(t, err)
}
