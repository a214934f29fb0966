package meshgate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/protocol"
	"github.com/opd-ai/meshgate/transport"
)

var gatewayAddr = protocol.Address{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

// fakeClock is a hand-driven TimeProvider for deterministic session aging
// and clock-sync tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// dataEvent mirrors one OnDataReceived invocation.
type dataEvent struct {
	addr     protocol.Address
	payload  []byte
	encoding protocol.PayloadEncoding
	lost     uint16
	control  bool
	name     string
}

// disconnectEvent mirrors one OnNodeDisconnected invocation.
type disconnectEvent struct {
	addr   protocol.Address
	reason protocol.InvalidateReason
}

// connectEvent mirrors one OnNodeConnected invocation.
type connectEvent struct {
	addr   protocol.Address
	nodeID uint16
	name   string
}

// eventRecorder captures every engine notification. The callbacks run on
// the goroutine driving Handle, but the recorder locks anyway so tests can
// also read it while Run is active.
type eventRecorder struct {
	mu           sync.Mutex
	data         []dataEvent
	connected    []connectEvent
	disconnected []disconnectEvent
	restarts     int
}

func (r *eventRecorder) events() Events {
	return Events{
		OnDataReceived: func(addr protocol.Address, payload []byte, encoding protocol.PayloadEncoding, lost uint16, control bool, name string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			buf := make([]byte, len(payload))
			copy(buf, payload)
			r.data = append(r.data, dataEvent{addr, buf, encoding, lost, control, name})
		},
		OnNodeConnected: func(addr protocol.Address, nodeID uint16, name string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connected = append(r.connected, connectEvent{addr, nodeID, name})
		},
		OnNodeDisconnected: func(addr protocol.Address, reason protocol.InvalidateReason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnected = append(r.disconnected, disconnectEvent{addr, reason})
		},
		OnRestartRequested: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.restarts++
		},
	}
}

func (r *eventRecorder) dataEvents() []dataEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dataEvent(nil), r.data...)
}

func (r *eventRecorder) connectEvents() []connectEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]connectEvent(nil), r.connected...)
}

func (r *eventRecorder) disconnectEvents() []disconnectEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]disconnectEvent(nil), r.disconnected...)
}

func (r *eventRecorder) restartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// newTestGateway builds a gateway on the hub with the test network identity.
func newTestGateway(t *testing.T, hub *transport.MemoryHub, rec *eventRecorder, clock crypto.TimeProvider) *Gateway {
	t.Helper()

	options := NewOptions()
	options.Transport = hub.Endpoint(gatewayAddr)
	options.Identity = NewIdentity("testnet", "orchard gate passphrase", 6)
	if rec != nil {
		options.Events = rec.events()
	}
	if clock != nil {
		options.TimeProvider = clock
	}

	gw, err := New(options)
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })
	return gw
}

// frameLog collects frames delivered to a test node.
type frameLog struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (l *frameLog) add(from protocol.Address, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, protocol.NewFrame(from, data))
}

func (l *frameLog) byType(t protocol.MessageType) []protocol.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.Frame
	for _, f := range l.frames {
		if f.Type() == t {
			out = append(out, f)
		}
	}
	return out
}

func (l *frameLog) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = nil
}

// testNode speaks the node side of the protocol over the memory hub.
type testNode struct {
	t       *testing.T
	addr    protocol.Address
	keys    *crypto.KeyPair
	network [crypto.KeyLength]byte
	tr      *transport.MemoryTransport
	inbox   frameLog

	nodeID     uint16
	sessionKey [crypto.KeyLength]byte
	bcastKey   [crypto.KeyLength]byte
}

func newTestNode(t *testing.T, hub *transport.MemoryHub, gw *Gateway, last byte) *testNode {
	t.Helper()

	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	n := &testNode{
		t:       t,
		addr:    protocol.Address{0x5E, 0x00, 0x00, 0x00, 0x00, last},
		keys:    keys,
		network: gw.Identity().NetworkKey,
	}
	n.tr = hub.Endpoint(n.addr)
	n.tr.SetReceiveHandler(n.inbox.add)
	return n
}

// seal wraps a plaintext body in the protocol envelope under the given key.
func (n *testNode) seal(msgType protocol.MessageType, key [crypto.KeyLength]byte, plaintext []byte) []byte {
	n.t.Helper()
	sealed, err := crypto.Seal(key, []byte{byte(msgType)}, plaintext)
	require.NoError(n.t, err)
	wire, err := protocol.EncodeSealed(msgType, sealed)
	require.NoError(n.t, err)
	return wire
}

// open strips and decrypts the envelope of a received frame.
func (n *testNode) open(f protocol.Frame, key [crypto.KeyLength]byte) []byte {
	n.t.Helper()
	msgType, sealed, err := protocol.SplitSealed(f.Data)
	require.NoError(n.t, err)
	plaintext, err := crypto.Open(key, []byte{byte(msgType)}, sealed)
	require.NoError(n.t, err)
	return plaintext
}

// sendHello transmits a ClientHello sealed under the network key.
func (n *testNode) sendHello(to protocol.Address, sleepy, wantBroadcastKey bool) {
	n.t.Helper()
	body := &protocol.ClientHelloBody{
		PublicKey:           n.keys.Public,
		Sleepy:              sleepy,
		RequestBroadcastKey: wantBroadcastKey,
	}
	require.NoError(n.t, n.tr.Send(to, n.seal(protocol.ClientHello, n.network, body.Serialize())))
}

// completeHandshake runs the full key agreement against the gateway and
// derives the node-side session key from the ServerHello.
func (n *testNode) completeHandshake(gw *Gateway) {
	n.t.Helper()

	n.sendHello(gw.Address(), false, false)
	gw.Handle()

	hellos := n.inbox.byType(protocol.ServerHello)
	require.NotEmpty(n.t, hellos, "no server hello received")
	body, err := protocol.ParseServerHelloBody(n.open(hellos[len(hellos)-1], n.network))
	require.NoError(n.t, err)

	key, err := crypto.DeriveSessionKey(body.PublicKey, n.keys.Private, n.network)
	require.NoError(n.t, err)

	n.nodeID = body.NodeID
	n.sessionKey = key
}

// handshakeWithBroadcastKey is completeHandshake with the broadcast key
// request flag set, capturing the delivered key.
func (n *testNode) handshakeWithBroadcastKey(gw *Gateway) {
	n.t.Helper()

	n.sendHello(gw.Address(), false, true)
	gw.Handle()

	hellos := n.inbox.byType(protocol.ServerHello)
	require.NotEmpty(n.t, hellos, "no server hello received")
	body, err := protocol.ParseServerHelloBody(n.open(hellos[len(hellos)-1], n.network))
	require.NoError(n.t, err)
	key, err := crypto.DeriveSessionKey(body.PublicKey, n.keys.Private, n.network)
	require.NoError(n.t, err)
	n.nodeID = body.NodeID
	n.sessionKey = key

	responses := n.inbox.byType(protocol.BroadcastKeyResponse)
	require.NotEmpty(n.t, responses, "no broadcast key received")
	bcast, err := protocol.ParseBroadcastKeyBody(n.open(responses[len(responses)-1], n.sessionKey))
	require.NoError(n.t, err)
	n.bcastKey = bcast.Key
}

// sendData transmits an encrypted sensor data message with an explicit
// counter.
func (n *testNode) sendData(to protocol.Address, counter uint16, payload []byte) {
	n.t.Helper()
	body := &protocol.DataBody{Counter: counter, Encoding: protocol.EncodingMsgPack, Payload: payload}
	plaintext, err := body.Serialize()
	require.NoError(n.t, err)
	require.NoError(n.t, n.tr.Send(to, n.seal(protocol.SensorData, n.sessionKey, plaintext)))
}
