package meshgate

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/node"
	"github.com/opd-ai/meshgate/protocol"
)

// processClientHello runs the gateway side of the key agreement. The hello
// is sealed under the network key; anything that fails to open is rejected
// outright without touching session state, since an attacker must not be
// able to reset sessions with garbage hellos.
//
// A valid hello from an address with an existing session replaces that
// session's key. The node restarted or chose to re-key; the fresh agreement
// wins and the stale key dies here.
func (g *Gateway) processClientHello(frame protocol.Frame) error {
	plaintext, err := g.openFrame(frame, g.networkKey())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrHelloRejected, frame.Addr)
	}

	hello, err := protocol.ParseClientHelloBody(plaintext)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHelloRejected, frame.Addr, err)
	}

	sessionKey, err := crypto.DeriveSessionKey(hello.PublicKey, g.keyPair.Private, g.networkKey())
	if err != nil {
		return fmt.Errorf("deriving session key for %s: %w", frame.Addr, err)
	}

	sess, existed, err := g.registry.Reserve(frame.Addr)
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"function": "processClientHello",
			"address":  frame.Addr.String(),
			"error":    err.Error(),
		}).Error("No session slot for new node")
		return err
	}
	if err := g.registry.Agree(sess.ID, sessionKey, hello.Sleepy, g.clock.Now()); err != nil {
		return err
	}

	if err := g.serverHello(sess.ID, frame.Addr); err != nil {
		// The agreed key stays; the node retries the handshake when the
		// answer never arrives.
		return err
	}

	g.log.WithFields(logrus.Fields{
		"function":    "processClientHello",
		"address":     frame.Addr.String(),
		"node_id":     sess.ID,
		"sleepy":      hello.Sleepy,
		"rehandshake": existed,
		"wants_bckey": hello.RequestBroadcastKey,
	}).Info("Node key agreement complete")

	if g.events.OnNodeConnected != nil {
		g.events.OnNodeConnected(frame.Addr, sess.ID, sess.Name)
	}

	if hello.RequestBroadcastKey {
		if current, ok := g.registry.ByID(sess.ID); ok {
			if err := g.sendBroadcastKey(current); err != nil {
				g.log.WithFields(logrus.Fields{
					"function": "processClientHello",
					"address":  frame.Addr.String(),
					"error":    err.Error(),
				}).Warn("Broadcast key delivery failed")
			}
		}
	}
	return nil
}

// serverHello answers a ClientHello with the gateway's public key and the
// node's assigned id, sealed under the network key like the hello itself.
func (g *Gateway) serverHello(nodeID uint16, to protocol.Address) error {
	body := &protocol.ServerHelloBody{
		PublicKey: g.keyPair.Public,
		NodeID:    nodeID,
	}
	if err := g.sendSealed(to, protocol.ServerHello, g.networkKey(), body.Serialize()); err != nil {
		return fmt.Errorf("sending server hello to %s: %w", to, err)
	}
	return nil
}

// sendBroadcastKey delivers the network broadcast key to a node over its
// session key. It requires a completed key agreement.
func (g *Gateway) sendBroadcastKey(sess node.Node) error {
	if !sess.Registered() {
		return fmt.Errorf("%w: %s", ErrUnregisteredSender, sess.Addr)
	}

	body := &protocol.BroadcastKeyBody{Key: g.broadcastKey}
	if err := g.sendSealed(sess.Addr, protocol.BroadcastKeyResponse, sess.SessionKey, body.Serialize()); err != nil {
		return fmt.Errorf("sending broadcast key to %s: %w", sess.Addr, err)
	}

	if err := g.registry.MarkBroadcastKeyDelivered(sess.ID); err != nil {
		return err
	}

	g.log.WithFields(logrus.Fields{
		"function": "sendBroadcastKey",
		"address":  sess.Addr.String(),
		"node_id":  sess.ID,
	}).Info("Broadcast key delivered")
	return nil
}

// invalidateSession is the sole session teardown path: it frees the slot,
// tells the node why, and notifies the application. Calling it for a
// session that is already gone does nothing, so teardown is idempotent and
// the disconnect event fires at most once.
func (g *Gateway) invalidateSession(nodeID uint16, reason protocol.InvalidateReason) {
	removed, ok := g.registry.Release(nodeID)
	if !ok {
		return
	}

	if err := g.sendInvalidateNotice(removed.Addr, reason); err != nil {
		g.log.WithFields(logrus.Fields{
			"function": "invalidateSession",
			"address":  removed.Addr.String(),
			"error":    err.Error(),
		}).Warn("Failed to send invalidation notice")
	}

	g.log.WithFields(logrus.Fields{
		"function": "invalidateSession",
		"address":  removed.Addr.String(),
		"node_id":  removed.ID,
		"reason":   reason.String(),
	}).Info("Session invalidated")

	if g.events.OnNodeDisconnected != nil {
		g.events.OnNodeDisconnected(removed.Addr, reason)
	}
}

// sendInvalidateNotice sends the plaintext InvalidateKey message. It is the
// one message deliberately outside the envelope: the recipient's key state
// is exactly what may be broken.
func (g *Gateway) sendInvalidateNotice(to protocol.Address, reason protocol.InvalidateReason) error {
	msg := &protocol.InvalidateKeyMessage{Reason: reason}
	return g.transport.Send(to, msg.Serialize())
}
