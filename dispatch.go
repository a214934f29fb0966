package meshgate

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/node"
	"github.com/opd-ai/meshgate/protocol"
)

// manageMessage classifies one inbound frame by its type byte and routes it
// to the matching handler. The switch names every known type: inbound ones
// dispatch, gateway-originated ones are rejected as a direction violation,
// and bytes outside the protocol fall through to the default.
func (g *Gateway) manageMessage(frame protocol.Frame) error {
	if frame.Len() == 0 {
		return fmt.Errorf("%w: empty frame", protocol.ErrMessageTooShort)
	}

	msgType := frame.Type()
	g.log.WithFields(logrus.Fields{
		"function": "manageMessage",
		"from":     frame.Addr.String(),
		"type":     msgType.String(),
		"length":   frame.Len(),
	}).Debug("Dispatching message")

	switch msgType {
	case protocol.ClientHello:
		return g.processClientHello(frame)
	case protocol.SensorData, protocol.SensorBroadcastData:
		return g.processDataMessage(frame)
	case protocol.UnencryptedData:
		return g.processUnencryptedData(frame)
	case protocol.ControlData:
		return g.processControlMessage(frame)
	case protocol.ClockRequest:
		return g.processClockRequest(frame)
	case protocol.NodeNameSet:
		return g.processNodeNameSet(frame)
	case protocol.BroadcastKeyRequest:
		return g.processBroadcastKeyRequest(frame)
	case protocol.ServerHello, protocol.InvalidateKey, protocol.ClockResponse,
		protocol.NodeNameResult, protocol.BroadcastKeyResponse,
		protocol.DownstreamSet, protocol.DownstreamBroadcastSet,
		protocol.DownstreamGet, protocol.DownstreamBroadcastGet,
		protocol.DownstreamControl, protocol.DownstreamBroadcastControl:
		return fmt.Errorf("%w: %s", ErrWrongDirection, msgType)
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownMessage, byte(msgType))
	}
}

// senderSession returns the session behind a frame's origin, requiring an
// agreed key.
func (g *Gateway) senderSession(frame protocol.Frame) (node.Node, error) {
	sess, ok := g.registry.ByAddress(frame.Addr)
	if !ok || !sess.Registered() {
		return node.Node{}, fmt.Errorf("%w: %s", ErrUnregisteredSender, frame.Addr)
	}
	return sess, nil
}

// requireSender is senderSession plus the re-handshake nudge: a data claim
// from an unknown address gets an InvalidateKey notice with reason
// UNREGISTERED_NODE so the sender knows to start over.
func (g *Gateway) requireSender(frame protocol.Frame) (node.Node, error) {
	sess, err := g.senderSession(frame)
	if err != nil {
		if sendErr := g.sendInvalidateNotice(frame.Addr, protocol.ReasonUnregisteredNode); sendErr != nil {
			g.log.WithFields(logrus.Fields{
				"function": "requireSender",
				"address":  frame.Addr.String(),
				"error":    sendErr.Error(),
			}).Warn("Failed to send re-handshake notice")
		}
		return node.Node{}, err
	}
	return sess, nil
}

// openFrame strips the envelope from a sealed frame and decrypts it with
// the given key, using the type byte as associated data.
func (g *Gateway) openFrame(frame protocol.Frame, key [crypto.KeyLength]byte) ([]byte, error) {
	msgType, sealed, err := protocol.SplitSealed(frame.Data)
	if err != nil {
		return nil, err
	}
	return crypto.Open(key, []byte{byte(msgType)}, sealed)
}

// processDataMessage handles encrypted sensor data, unicast or broadcast.
// A decryption failure under the agreed key means the node's key state is
// broken, so the session is invalidated with reason WRONG_DATA.
func (g *Gateway) processDataMessage(frame protocol.Frame) error {
	sess, err := g.requireSender(frame)
	if err != nil {
		return err
	}

	key := sess.SessionKey
	if frame.Type().IsBroadcast() {
		key = g.broadcastKey
	}

	plaintext, err := g.openFrame(frame, key)
	if err != nil {
		g.invalidateSession(sess.ID, protocol.ReasonWrongData)
		return fmt.Errorf("opening data message from %s: %w", frame.Addr, err)
	}

	body, err := protocol.ParseDataBody(plaintext)
	if err != nil {
		return fmt.Errorf("parsing data message from %s: %w", frame.Addr, err)
	}

	return g.acceptData(sess, frame, body, false)
}

// processControlMessage handles an encrypted control payload. Control
// traffic never tears a session down; failures are reported and the session
// stays as it was.
func (g *Gateway) processControlMessage(frame protocol.Frame) error {
	sess, err := g.requireSender(frame)
	if err != nil {
		return err
	}

	plaintext, err := g.openFrame(frame, sess.SessionKey)
	if err != nil {
		return fmt.Errorf("opening control message from %s: %w", frame.Addr, err)
	}

	body, err := protocol.ParseDataBody(plaintext)
	if err != nil {
		return fmt.Errorf("parsing control message from %s: %w", frame.Addr, err)
	}

	return g.acceptData(sess, frame, body, true)
}

// processUnencryptedData handles plaintext sensor data. It skips the
// envelope but keeps the full counter discipline.
func (g *Gateway) processUnencryptedData(frame protocol.Frame) error {
	sess, err := g.requireSender(frame)
	if err != nil {
		return err
	}

	msg, err := protocol.ParseUnencryptedDataMessage(frame.Data)
	if err != nil {
		return fmt.Errorf("parsing unencrypted data from %s: %w", frame.Addr, err)
	}

	body := &protocol.DataBody{Counter: msg.Counter, Encoding: msg.Encoding, Payload: msg.Payload}
	return g.acceptData(sess, frame, body, false)
}

// acceptData applies the counter discipline and forwards the payload to the
// application. A replayed counter changes nothing and reaches nobody.
func (g *Gateway) acceptData(sess node.Node, frame protocol.Frame, body *protocol.DataBody, control bool) error {
	lost, err := g.registry.AcceptData(sess.ID, body.Counter, g.options.UseCounter, g.clock.Now())
	if err != nil {
		return fmt.Errorf("data message from %s: %w", frame.Addr, err)
	}

	g.log.WithFields(logrus.Fields{
		"function": "acceptData",
		"from":     frame.Addr.String(),
		"type":     frame.Type().String(),
		"counter":  body.Counter,
		"lost":     lost,
		"encoding": body.Encoding.String(),
		"length":   len(body.Payload),
	}).Debug("Data message accepted")

	if g.events.OnDataReceived != nil {
		g.events.OnDataReceived(frame.Addr, body.Payload, body.Encoding, lost, control, sess.Name)
	}
	return nil
}

// processClockRequest answers a node's clock probe: its transmit time T1
// comes back unchanged next to the gateway's receipt time T2, and the node
// does its own offset arithmetic. Nothing is retained between probes.
func (g *Gateway) processClockRequest(frame protocol.Frame) error {
	sess, err := g.senderSession(frame)
	if err != nil {
		return err
	}

	plaintext, err := g.openFrame(frame, sess.SessionKey)
	if err != nil {
		return fmt.Errorf("opening clock request from %s: %w", frame.Addr, err)
	}

	request, err := protocol.ParseClockRequestBody(plaintext)
	if err != nil {
		return fmt.Errorf("parsing clock request from %s: %w", frame.Addr, err)
	}

	now := g.clock.Now()
	response := &protocol.ClockResponseBody{
		T1: request.T1,
		T2: uint64(now.UnixMilli()),
	}
	if err := g.sendSealed(sess.Addr, protocol.ClockResponse, sess.SessionKey, response.Serialize()); err != nil {
		return fmt.Errorf("sending clock response to %s: %w", frame.Addr, err)
	}

	return g.registry.Touch(sess.ID, now)
}

// processNodeNameSet binds a requested name to the sender's session. The
// outcome, good or bad, is always answered with a NodeNameResult so the
// node never waits blind.
func (g *Gateway) processNodeNameSet(frame protocol.Frame) error {
	sess, err := g.senderSession(frame)
	if err != nil {
		return err
	}

	code := g.bindNodeName(sess, frame)
	if err := g.sendSealed(sess.Addr, protocol.NodeNameResult, sess.SessionKey,
		(&protocol.NameResultBody{Code: code}).Serialize()); err != nil {
		return fmt.Errorf("sending name result to %s: %w", frame.Addr, err)
	}

	if code != protocol.NameOK {
		return fmt.Errorf("name request from %s rejected: %s", frame.Addr, code)
	}
	return nil
}

// bindNodeName validates and applies one naming request, returning the
// wire result code.
func (g *Gateway) bindNodeName(sess node.Node, frame protocol.Frame) protocol.NameResultCode {
	plaintext, err := g.openFrame(frame, sess.SessionKey)
	if err != nil {
		return protocol.NameMessageError
	}

	body, err := protocol.ParseNameSetBody(plaintext)
	if err != nil {
		return protocol.NameEmpty
	}
	if len(body.Name) > protocol.MaxNodeNameLength {
		return protocol.NameTooLong
	}

	if err := g.registry.SetName(sess.ID, body.Name); err != nil {
		return protocol.NameAlreadyUsed
	}

	g.log.WithFields(logrus.Fields{
		"function": "bindNodeName",
		"address":  sess.Addr.String(),
		"node_id":  sess.ID,
		"name":     body.Name,
	}).Info("Node named")
	return protocol.NameOK
}

// processBroadcastKeyRequest answers an explicit broadcast key request. The
// request's plaintext is empty; its envelope tag is the authentication.
func (g *Gateway) processBroadcastKeyRequest(frame protocol.Frame) error {
	sess, err := g.senderSession(frame)
	if err != nil {
		return err
	}

	if _, err := g.openFrame(frame, sess.SessionKey); err != nil {
		return fmt.Errorf("opening broadcast key request from %s: %w", frame.Addr, err)
	}

	return g.sendBroadcastKey(sess)
}

// sendSealed seals a plaintext body under the given key and sends it as the
// given message type.
func (g *Gateway) sendSealed(to protocol.Address, msgType protocol.MessageType, key [crypto.KeyLength]byte, plaintext []byte) error {
	sealed, err := crypto.Seal(key, []byte{byte(msgType)}, plaintext)
	if err != nil {
		return fmt.Errorf("sealing %s: %w", msgType, err)
	}
	wire, err := protocol.EncodeSealed(msgType, sealed)
	if err != nil {
		return err
	}
	return g.transport.Send(to, wire)
}
