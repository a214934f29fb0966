package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/protocol"
)

// Link-frame discriminators. They live below the protocol's message types;
// engine messages travel inside records.
const (
	linkHandshakeInit byte = 0x01
	linkHandshakeResp byte = 0x02
	linkRecord        byte = 0x03
)

// pendingLimit bounds the frames queued per peer while a handshake is in
// flight.
const pendingLimit = 16

var (
	// ErrNoPeerKey indicates a send to a peer whose static key was never
	// added, so no handshake can be initiated.
	ErrNoPeerKey = errors.New("no static key for peer")

	// ErrPendingOverflow indicates too many frames queued behind one
	// handshake.
	ErrPendingOverflow = errors.New("pending queue full")
)

// linkSession is the Noise state for one peer.
type linkSession struct {
	mu        sync.Mutex
	handshake *noise.HandshakeState
	send      *noise.CipherState
	recv      *noise.CipherState
	initiator bool
	complete  bool
	pending   [][]byte
}

// SecureTransport wraps a transport with Noise-IK link encryption, one
// session per peer. The handshake runs transparently on first contact:
// outbound frames queue behind it and flush when the session completes.
// Peer authentication is not this layer's job; the gateway's own key
// agreement decides who may join the network.
type SecureTransport struct {
	underlying Transport
	keys       noise.DHKey

	mu        sync.RWMutex
	sessions  map[protocol.Address]*linkSession
	peerKeys  map[protocol.Address][crypto.KeyLength]byte
	onReceive ReceiveHandler
}

// cipherSuite is the Noise suite for link sessions.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// NewSecureTransport wraps a transport with link encryption using the given
// long-term key pair.
func NewSecureTransport(underlying Transport, keys *crypto.KeyPair) (*SecureTransport, error) {
	if underlying == nil {
		return nil, errors.New("underlying transport cannot be nil")
	}
	if keys == nil {
		return nil, errors.New("key pair cannot be nil")
	}

	st := &SecureTransport{
		underlying: underlying,
		keys: noise.DHKey{
			Private: append([]byte(nil), keys.Private[:]...),
			Public:  append([]byte(nil), keys.Public[:]...),
		},
		sessions: make(map[protocol.Address]*linkSession),
		peerKeys: make(map[protocol.Address][crypto.KeyLength]byte),
	}
	underlying.SetReceiveHandler(st.handleLinkFrame)

	logrus.WithFields(logrus.Fields{
		"function": "NewSecureTransport",
		"address":  underlying.LocalAddress().String(),
	}).Info("Link encryption enabled")

	return st, nil
}

// AddPeer registers a peer's static public key, enabling this side to
// initiate a handshake toward it. Responding to inbound handshakes needs no
// prior key.
func (st *SecureTransport) AddPeer(addr protocol.Address, publicKey [crypto.KeyLength]byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.peerKeys[addr] = publicKey
}

// Send encrypts a frame to the peer, starting a handshake first when
// needed. Frames queued behind a handshake are flushed in order once it
// completes.
func (st *SecureTransport) Send(to protocol.Address, data []byte) error {
	st.mu.RLock()
	session := st.sessions[to]
	st.mu.RUnlock()

	if session == nil {
		return st.initiate(to, data)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.complete {
		if len(session.pending) >= pendingLimit {
			return fmt.Errorf("%w: %s", ErrPendingOverflow, to)
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		session.pending = append(session.pending, buf)
		return nil
	}

	return st.sendRecord(session, to, data)
}

// sendRecord seals one frame with the session's send cipher. Caller holds
// the session lock.
func (st *SecureTransport) sendRecord(session *linkSession, to protocol.Address, data []byte) error {
	sealed, err := session.send.Encrypt(nil, nil, data)
	if err != nil {
		return fmt.Errorf("sealing link record: %w", err)
	}

	frame := make([]byte, 1+len(sealed))
	frame[0] = linkRecord
	copy(frame[1:], sealed)
	return st.underlying.Send(to, frame)
}

// initiate creates an initiator session toward a known peer and queues the
// triggering frame.
func (st *SecureTransport) initiate(to protocol.Address, data []byte) error {
	st.mu.Lock()
	if existing := st.sessions[to]; existing != nil {
		// Another sender raced us; retry through the normal path.
		st.mu.Unlock()
		return st.Send(to, data)
	}

	peerKey, ok := st.peerKeys[to]
	if !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPeerKey, to)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: st.keys,
		PeerStatic:    peerKey[:],
	})
	if err != nil {
		st.mu.Unlock()
		return fmt.Errorf("creating handshake: %w", err)
	}

	session := &linkSession{handshake: hs, initiator: true}
	buf := make([]byte, len(data))
	copy(buf, data)
	session.pending = append(session.pending, buf)
	st.sessions[to] = session
	st.mu.Unlock()

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		st.dropSession(to)
		return fmt.Errorf("writing handshake message: %w", err)
	}

	frame := make([]byte, 1+len(msg))
	frame[0] = linkHandshakeInit
	copy(frame[1:], msg)
	return st.underlying.Send(to, frame)
}

// handleLinkFrame dispatches inbound link frames by discriminator. Broken
// frames are dropped with a log; the layer above never sees them.
func (st *SecureTransport) handleLinkFrame(from protocol.Address, data []byte) {
	if len(data) < 1 {
		return
	}

	var err error
	switch data[0] {
	case linkHandshakeInit:
		err = st.handleHandshakeInit(from, data[1:])
	case linkHandshakeResp:
		err = st.handleHandshakeResp(from, data[1:])
	case linkRecord:
		err = st.handleRecord(from, data[1:])
	default:
		err = fmt.Errorf("unknown link discriminator 0x%02X", data[0])
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkFrame",
			"peer":     from.String(),
			"error":    err.Error(),
		}).Warn("Dropping link frame")
	}
}

// handleHandshakeInit answers an inbound handshake as responder. A repeated
// init replaces any previous session with the peer; the initiator clearly
// started over.
func (st *SecureTransport) handleHandshakeInit(from protocol.Address, msg []byte) error {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		StaticKeypair: st.keys,
	})
	if err != nil {
		return fmt.Errorf("creating responder handshake: %w", err)
	}

	if _, _, _, err := hs.ReadMessage(nil, msg); err != nil {
		return fmt.Errorf("reading handshake message: %w", err)
	}

	resp, i2r, r2i, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return fmt.Errorf("writing handshake response: %w", err)
	}

	// The first cipher state carries initiator-to-responder traffic, the
	// second the reverse. The responder sends on the second.
	session := &linkSession{
		send:     r2i,
		recv:     i2r,
		complete: true,
	}

	st.mu.Lock()
	st.sessions[from] = session
	st.mu.Unlock()

	frame := make([]byte, 1+len(resp))
	frame[0] = linkHandshakeResp
	copy(frame[1:], resp)
	return st.underlying.Send(from, frame)
}

// handleHandshakeResp completes an initiator handshake and flushes frames
// queued behind it.
func (st *SecureTransport) handleHandshakeResp(from protocol.Address, msg []byte) error {
	st.mu.RLock()
	session := st.sessions[from]
	st.mu.RUnlock()

	if session == nil || !session.initiator {
		return errors.New("handshake response without initiator session")
	}

	session.mu.Lock()
	if session.complete {
		session.mu.Unlock()
		return errors.New("handshake already complete")
	}

	_, i2r, r2i, err := session.handshake.ReadMessage(nil, msg)
	if err != nil {
		session.mu.Unlock()
		st.dropSession(from)
		return fmt.Errorf("reading handshake response: %w", err)
	}

	// The initiator sends on the first cipher state.
	session.send = i2r
	session.recv = r2i
	session.complete = true
	session.handshake = nil

	pending := session.pending
	session.pending = nil

	var flushErr error
	for _, frame := range pending {
		if err := st.sendRecord(session, from, frame); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	session.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleHandshakeResp",
		"peer":     from.String(),
		"flushed":  len(pending),
	}).Debug("Link session established")

	return flushErr
}

// handleRecord decrypts a record and delivers the plaintext upward.
func (st *SecureTransport) handleRecord(from protocol.Address, sealed []byte) error {
	st.mu.RLock()
	session := st.sessions[from]
	handler := st.onReceive
	st.mu.RUnlock()

	if session == nil {
		return errors.New("record without session")
	}

	session.mu.Lock()
	if !session.complete {
		session.mu.Unlock()
		return errors.New("record before handshake completion")
	}
	plaintext, err := session.recv.Decrypt(nil, nil, sealed)
	session.mu.Unlock()

	if err != nil {
		return fmt.Errorf("opening link record: %w", err)
	}

	if handler != nil {
		handler(from, plaintext)
	}
	return nil
}

// dropSession forgets a broken session so the next send starts over.
func (st *SecureTransport) dropSession(addr protocol.Address) {
	st.mu.Lock()
	delete(st.sessions, addr)
	st.mu.Unlock()
}

// SetReceiveHandler registers the consumer of decrypted frames.
func (st *SecureTransport) SetReceiveHandler(handler ReceiveHandler) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onReceive = handler
}

// SetSendStatusHandler forwards delivery reports from the underlying
// transport.
func (st *SecureTransport) SetSendStatusHandler(handler SendStatusHandler) {
	st.underlying.SetSendStatusHandler(handler)
}

// LocalAddress returns the underlying transport's address.
func (st *SecureTransport) LocalAddress() protocol.Address {
	return st.underlying.LocalAddress()
}

// Close clears all sessions and closes the underlying transport.
func (st *SecureTransport) Close() error {
	st.mu.Lock()
	st.sessions = make(map[protocol.Address]*linkSession)
	st.mu.Unlock()
	return st.underlying.Close()
}
