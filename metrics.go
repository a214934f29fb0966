package meshgate

import (
	"fmt"

	"github.com/opd-ai/meshgate/node"
	"github.com/opd-ai/meshgate/protocol"
)

// Per-node link quality, derived from the session counters. All of these
// read a session snapshot and are safe from any goroutine.

// PER returns the packet error rate observed for a node, between 0 and 1.
func (g *Gateway) PER(addr protocol.Address) (float64, error) {
	sess, err := g.metricsNode(addr)
	if err != nil {
		return 0, err
	}
	return sess.PER(), nil
}

// TotalPackets returns the number of data messages a node's counters
// account for, including the ones its gaps revealed as lost.
func (g *Gateway) TotalPackets(addr protocol.Address) (uint32, error) {
	sess, err := g.metricsNode(addr)
	if err != nil {
		return 0, err
	}
	return sess.PacketsTotal, nil
}

// ErrorPackets returns the number of data messages lost on the way from a
// node.
func (g *Gateway) ErrorPackets(addr protocol.Address) (uint32, error) {
	sess, err := g.metricsNode(addr)
	if err != nil {
		return 0, err
	}
	return sess.PacketsError, nil
}

// PacketsPerHour returns a node's observed message rate since its last key
// agreement.
func (g *Gateway) PacketsPerHour(addr protocol.Address) (float64, error) {
	sess, err := g.metricsNode(addr)
	if err != nil {
		return 0, err
	}
	return sess.PacketsPerHour(g.clock.Now()), nil
}

// metricsNode fetches the session snapshot behind an address.
func (g *Gateway) metricsNode(addr protocol.Address) (node.Node, error) {
	sess, ok := g.registry.ByAddress(addr)
	if !ok {
		return node.Node{}, fmt.Errorf("%w: %s", node.ErrUnknownNode, addr)
	}
	return sess, nil
}
