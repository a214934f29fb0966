package meshgate

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/node"
	"github.com/opd-ai/meshgate/protocol"
)

// DownstreamKind selects the semantics of a downstream message. Set pushes
// a value to the node, Get asks the node to report one, Control carries an
// engine-opaque control payload. Each kind has its own opcode because nodes
// route them differently.
type DownstreamKind int

const (
	DownstreamKindSet DownstreamKind = iota
	DownstreamKindGet
	DownstreamKindControl
)

// String returns a short name for the kind, for logs.
func (k DownstreamKind) String() string {
	switch k {
	case DownstreamKindSet:
		return "SET"
	case DownstreamKindGet:
		return "GET"
	case DownstreamKindControl:
		return "CONTROL"
	}
	return "UNKNOWN"
}

// opcode maps a kind to its unicast or broadcast message type.
func (k DownstreamKind) opcode(broadcast bool) (protocol.MessageType, error) {
	switch k {
	case DownstreamKindSet:
		if broadcast {
			return protocol.DownstreamBroadcastSet, nil
		}
		return protocol.DownstreamSet, nil
	case DownstreamKindGet:
		if broadcast {
			return protocol.DownstreamBroadcastGet, nil
		}
		return protocol.DownstreamGet, nil
	case DownstreamKindControl:
		if broadcast {
			return protocol.DownstreamBroadcastControl, nil
		}
		return protocol.DownstreamControl, nil
	}
	return 0, fmt.Errorf("unknown downstream kind %d", k)
}

// SendDownstream queues a downstream message for a single node, addressed
// by physical address ("12:34:56:78:9a:bc") or by bound node name. The
// message is built and transmitted on the processing loop; delivery beyond
// the transport's synchronous accept is fire-and-forget.
func (g *Gateway) SendDownstream(target string, payload []byte, kind DownstreamKind, encoding protocol.PayloadEncoding) error {
	sess, err := g.resolveTarget(target)
	if err != nil {
		return err
	}
	return g.DownstreamDataMessage(sess.Addr, payload, kind, encoding)
}

// DownstreamDataMessage queues a downstream message for the node behind an
// address.
func (g *Gateway) DownstreamDataMessage(addr protocol.Address, payload []byte, kind DownstreamKind, encoding protocol.PayloadEncoding) error {
	if err := protocol.ValidateDataPayload(payload); err != nil {
		return err
	}
	if _, err := g.registeredNode(addr); err != nil {
		return err
	}
	if _, err := kind.opcode(false); err != nil {
		return err
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	return g.enqueue(func() {
		if err := g.doDownstream(addr, buf, kind, encoding); err != nil {
			g.log.WithFields(logrus.Fields{
				"function": "DownstreamDataMessage",
				"address":  addr.String(),
				"kind":     kind.String(),
				"error":    err.Error(),
			}).Error("Downstream send failed")
			g.registry.RecordSendFailure(addr)
		}
	})
}

// BroadcastDownstream queues a downstream message for every node at once,
// sealed with the network broadcast key. Only nodes that received the
// broadcast key can open it.
func (g *Gateway) BroadcastDownstream(payload []byte, kind DownstreamKind, encoding protocol.PayloadEncoding) error {
	if err := protocol.ValidateDataPayload(payload); err != nil {
		return err
	}
	opcode, err := kind.opcode(true)
	if err != nil {
		return err
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	return g.enqueue(func() {
		g.broadcastCounter++
		body := &protocol.DataBody{
			Counter:  g.broadcastCounter,
			Encoding: encoding,
			Payload:  buf,
		}
		plaintext, err := body.Serialize()
		if err == nil {
			err = g.sendSealed(protocol.Broadcast, opcode, g.broadcastKey, plaintext)
		}
		if err != nil {
			g.log.WithFields(logrus.Fields{
				"function": "BroadcastDownstream",
				"kind":     kind.String(),
				"error":    err.Error(),
			}).Error("Broadcast send failed")
			return
		}
		g.log.WithFields(logrus.Fields{
			"function": "BroadcastDownstream",
			"kind":     kind.String(),
			"counter":  g.broadcastCounter,
			"length":   len(buf),
		}).Debug("Broadcast message sent")
	})
}

// doDownstream builds and transmits one unicast downstream message. It runs
// on the processing loop, where the session counters live.
func (g *Gateway) doDownstream(addr protocol.Address, payload []byte, kind DownstreamKind, encoding protocol.PayloadEncoding) error {
	sess, err := g.registeredNode(addr)
	if err != nil {
		return err
	}

	counter, err := g.registry.NextSendCounter(sess.ID)
	if err != nil {
		return err
	}

	body := &protocol.DataBody{
		Counter:  counter,
		Encoding: encoding,
		Payload:  payload,
	}
	plaintext, err := body.Serialize()
	if err != nil {
		return err
	}

	opcode, err := kind.opcode(false)
	if err != nil {
		return err
	}
	if err := g.sendSealed(addr, opcode, sess.SessionKey, plaintext); err != nil {
		return err
	}

	g.log.WithFields(logrus.Fields{
		"function": "doDownstream",
		"address":  addr.String(),
		"kind":     kind.String(),
		"counter":  counter,
		"length":   len(payload),
	}).Debug("Downstream message sent")
	return nil
}

// resolveTarget turns an address string or node name into a session.
func (g *Gateway) resolveTarget(target string) (node.Node, error) {
	if addr, err := protocol.ParseAddress(target); err == nil {
		return g.registeredNode(addr)
	}

	sess, ok := g.registry.ByName(target)
	if !ok {
		return node.Node{}, fmt.Errorf("%w: %q", node.ErrUnknownNode, target)
	}
	return sess, nil
}

// registeredNode returns the session behind an address, requiring an agreed
// key.
func (g *Gateway) registeredNode(addr protocol.Address) (node.Node, error) {
	sess, ok := g.registry.ByAddress(addr)
	if !ok || !sess.Registered() {
		return node.Node{}, fmt.Errorf("%w: %s", node.ErrUnknownNode, addr)
	}
	return sess, nil
}
