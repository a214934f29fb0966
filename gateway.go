package meshgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/buffer"
	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/node"
	"github.com/opd-ai/meshgate/protocol"
	"github.com/opd-ai/meshgate/transport"
)

// DataReceivedCallback consumes one accepted upstream payload. Lost counts
// the messages the counter gap revealed as missing before this one; control
// marks control traffic; nodeName is empty for unnamed nodes.
type DataReceivedCallback func(addr protocol.Address, payload []byte, encoding protocol.PayloadEncoding, lost uint16, control bool, nodeName string)

// NodeConnectedCallback fires after a completed key agreement, once the
// ServerHello is on its way.
type NodeConnectedCallback func(addr protocol.Address, nodeID uint16, name string)

// NodeDisconnectedCallback fires once per session teardown with the reason
// sent to the node.
type NodeDisconnectedCallback func(addr protocol.Address, reason protocol.InvalidateReason)

// RestartRequestedCallback fires when something asked the gateway process to
// restart; acting on it belongs to the embedding application.
type RestartRequestedCallback func()

// Events is the listener table handed to New. Every callback is optional
// and runs on the engine's processing loop, so none of them may block.
type Events struct {
	OnDataReceived     DataReceivedCallback
	OnNodeConnected    NodeConnectedCallback
	OnNodeDisconnected NodeDisconnectedCallback
	OnRestartRequested RestartRequestedCallback
}

// Options contains configuration for creating a Gateway.
type Options struct {
	// Transport carries frames to and from the nodes. Required.
	Transport transport.Transport

	// Identity is the network configuration used when Store is absent or
	// its contents cannot be loaded.
	Identity Identity

	// Store persists the identity across restarts. Optional.
	Store Store

	// Events receives engine notifications.
	Events Events

	// UseCounter enables the per-node message counter discipline: replay
	// rejection and loss accounting.
	UseCounter bool

	// MaxNodes caps the number of simultaneous sessions.
	MaxNodes int

	// QueueDepth and OverflowDepth size the inbound frame queue and its
	// overflow store.
	QueueDepth    int
	OverflowDepth int

	// OverflowPolicy selects the order displaced frames are served in.
	OverflowPolicy buffer.OverflowPolicy

	// KeyValidity is the maximum session key age before the gateway forces
	// a re-handshake.
	KeyValidity time.Duration

	// IterationInterval is the pause between processing ticks in Run.
	IterationInterval time.Duration

	// Logger receives engine logs. Defaults to the standard logger.
	Logger *logrus.Logger

	// TimeProvider supplies the clock, replaceable for tests.
	TimeProvider crypto.TimeProvider
}

// NewOptions creates Options with the default tuning.
func NewOptions() *Options {
	return &Options{
		UseCounter:        true,
		MaxNodes:          node.DefaultMaxNodes,
		QueueDepth:        buffer.DefaultDepth,
		OverflowDepth:     buffer.DefaultOverflowDepth,
		OverflowPolicy:    buffer.OverflowFIFO,
		KeyValidity:       24 * time.Hour,
		IterationInterval: 10 * time.Millisecond,
	}
}

// sendReport is one asynchronous delivery report from the transport.
type sendReport struct {
	to     protocol.Address
	status transport.SendStatus
}

// expiryInterval throttles the session age sweep inside Handle.
const expiryInterval = time.Second

// Gateway is the engine coordinating a sensor network: it runs the key
// agreement with nodes, keeps their sessions, dispatches inbound traffic,
// and builds outbound messages.
//
// Inbound frames arrive on the transport's receive goroutine and are only
// queued there; all session work happens in Handle, which the owner drives
// either directly or through Run. Public methods that mutate sessions hand
// their work to that loop.
type Gateway struct {
	options *Options
	log     *logrus.Logger
	clock   crypto.TimeProvider
	events  Events

	keyPair      *crypto.KeyPair
	broadcastKey [crypto.KeyLength]byte

	identityMu sync.RWMutex
	identity   Identity

	transport transport.Transport
	queue     *buffer.Queue
	registry  *node.Registry

	sendStatus       chan sendReport
	commands         chan func()
	broadcastCounter uint16
	lastExpirySweep  time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Gateway from options. The transport's receive path is wired
// immediately; frames queue up until Handle or Run drains them.
func New(options *Options) (*Gateway, error) {
	if options == nil || options.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	applyDefaults(options)

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating gateway key pair: %w", err)
	}
	broadcastKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating broadcast key: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw := &Gateway{
		options:      options,
		log:          options.Logger,
		clock:        options.TimeProvider,
		events:       options.Events,
		keyPair:      keyPair,
		broadcastKey: broadcastKey,
		identity:     options.Identity,
		transport:    options.Transport,
		queue:        buffer.NewQueue(options.QueueDepth, options.OverflowDepth, options.OverflowPolicy),
		registry:     node.NewRegistry(options.MaxNodes),
		sendStatus:   make(chan sendReport, 64),
		commands:     make(chan func(), 16),
		ctx:          ctx,
		cancel:       cancel,
	}

	gw.loadIdentity()

	gw.transport.SetReceiveHandler(gw.onReceive)
	gw.transport.SetSendStatusHandler(gw.onSendStatus)

	gw.log.WithFields(logrus.Fields{
		"function":     "New",
		"network_name": gw.identity.NetworkName,
		"channel":      gw.identity.Channel,
		"address":      gw.transport.LocalAddress().String(),
		"max_nodes":    gw.registry.MaxNodes(),
	}).Info("Gateway engine ready")

	return gw, nil
}

// applyDefaults fills zero-valued options from NewOptions.
func applyDefaults(options *Options) {
	defaults := NewOptions()
	if options.MaxNodes <= 0 {
		options.MaxNodes = defaults.MaxNodes
	}
	if options.QueueDepth <= 0 {
		options.QueueDepth = defaults.QueueDepth
	}
	if options.OverflowDepth <= 0 {
		options.OverflowDepth = defaults.OverflowDepth
	}
	if options.KeyValidity <= 0 {
		options.KeyValidity = defaults.KeyValidity
	}
	if options.IterationInterval <= 0 {
		options.IterationInterval = defaults.IterationInterval
	}
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger()
	}
	if options.TimeProvider == nil {
		options.TimeProvider = crypto.DefaultTimeProvider{}
	}
}

// loadIdentity replaces the configured identity with the stored one when a
// store is present and readable. A missing file is seeded with the
// configured identity; an unreadable one is left alone for inspection and
// the configured identity is used for this run.
func (g *Gateway) loadIdentity() {
	if g.options.Store == nil {
		return
	}

	stored, err := g.options.Store.Load()
	if err == nil {
		g.identity = stored
		return
	}

	g.log.WithFields(logrus.Fields{
		"function": "loadIdentity",
		"error":    err.Error(),
	}).Warn("Stored identity unavailable, using configured identity")

	if saveErr := g.options.Store.Save(g.identity); saveErr != nil {
		g.log.WithFields(logrus.Fields{
			"function": "loadIdentity",
			"error":    saveErr.Error(),
		}).Error("Failed to seed identity store")
	}
}

// onReceive runs on the transport's receive goroutine. It only queues; the
// processing loop does everything else, so this path never stalls the radio.
func (g *Gateway) onReceive(from protocol.Address, data []byte) {
	g.queue.Push(protocol.NewFrame(from, data))
}

// onSendStatus forwards delivery reports into the processing loop. The
// channel is advisory; when it is full the report is dropped rather than
// blocking the transport.
func (g *Gateway) onSendStatus(to protocol.Address, status transport.SendStatus) {
	select {
	case g.sendStatus <- sendReport{to: to, status: status}:
	default:
	}
}

// Handle runs one cooperative processing tick: delivery reports, queued
// commands, every queued inbound frame, and the periodic session age sweep.
func (g *Gateway) Handle() {
	g.drainSendReports()
	g.drainCommands()

	for {
		frame, ok := g.queue.Next()
		if !ok {
			break
		}
		if err := g.manageMessage(frame); err != nil {
			g.log.WithFields(logrus.Fields{
				"function": "Handle",
				"from":     frame.Addr.String(),
				"type":     frame.Type().String(),
				"error":    err.Error(),
			}).Debug("Message rejected")
		}
	}

	g.expireSessions()
}

// Run drives Handle on the configured interval until the context or the
// gateway closes.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.options.IterationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.ctx.Done():
			return nil
		case <-ticker.C:
			g.Handle()
		}
	}
}

// drainSendReports applies pending delivery reports to the session tallies.
func (g *Gateway) drainSendReports() {
	for {
		select {
		case report := <-g.sendStatus:
			if report.status == transport.SendFailed {
				g.registry.RecordSendFailure(report.to)
				g.log.WithFields(logrus.Fields{
					"function": "drainSendReports",
					"address":  report.to.String(),
				}).Debug("Downstream message not delivered")
			}
		default:
			return
		}
	}
}

// drainCommands runs work queued by the public API on the processing loop.
func (g *Gateway) drainCommands() {
	for {
		select {
		case cmd := <-g.commands:
			cmd()
		default:
			return
		}
	}
}

// enqueue hands work to the processing loop without blocking the caller.
func (g *Gateway) enqueue(cmd func()) error {
	if g.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case g.commands <- cmd:
		return nil
	default:
		return ErrEngineBusy
	}
}

// expireSessions invalidates sessions whose key age exceeds the configured
// validity. The sweep runs at most once per expiryInterval.
func (g *Gateway) expireSessions() {
	now := g.clock.Now()
	if now.Sub(g.lastExpirySweep) < expiryInterval {
		return
	}
	g.lastExpirySweep = now

	for _, n := range g.registry.Expired(now, g.options.KeyValidity) {
		g.log.WithFields(logrus.Fields{
			"function": "expireSessions",
			"address":  n.Addr.String(),
			"node_id":  n.ID,
			"key_age":  now.Sub(n.KeyAgreedAt).String(),
		}).Info("Session key expired")
		g.invalidateSession(n.ID, protocol.ReasonKeyExpired)
	}
}

// Close shuts the engine down and closes the transport.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.cancel()
		err = g.transport.Close()
		g.log.WithFields(logrus.Fields{
			"function": "Close",
		}).Info("Gateway engine stopped")
	})
	return err
}

// IterationInterval returns the recommended pause between Handle calls.
func (g *Gateway) IterationInterval() time.Duration {
	return g.options.IterationInterval
}

// PublicKey returns the gateway's session agreement public key.
func (g *Gateway) PublicKey() [crypto.KeyLength]byte {
	return g.keyPair.Public
}

// Address returns the gateway's link address.
func (g *Gateway) Address() protocol.Address {
	return g.transport.LocalAddress()
}

// Identity returns the current network configuration.
func (g *Gateway) Identity() Identity {
	g.identityMu.RLock()
	defer g.identityMu.RUnlock()
	return g.identity
}

// networkKey returns the current handshake authentication key.
func (g *Gateway) networkKey() [crypto.KeyLength]byte {
	g.identityMu.RLock()
	defer g.identityMu.RUnlock()
	return g.identity.NetworkKey
}

// Reconfigure persists a new identity and swaps it in on the processing
// loop. Sessions agreed under the old network key stay valid; the new key
// gates handshakes from the moment of the swap.
func (g *Gateway) Reconfigure(identity Identity) error {
	if g.options.Store != nil {
		if err := g.options.Store.Save(identity); err != nil {
			return fmt.Errorf("persisting identity: %w", err)
		}
	}

	return g.enqueue(func() {
		g.identityMu.Lock()
		g.identity = identity
		g.identityMu.Unlock()
		g.log.WithFields(logrus.Fields{
			"function":     "Reconfigure",
			"network_name": identity.NetworkName,
			"channel":      identity.Channel,
		}).Info("Gateway identity updated")
	})
}

// KickNode tears down a node's session with reason KICKED. The teardown
// runs on the processing loop.
func (g *Gateway) KickNode(addr protocol.Address) error {
	n, ok := g.registry.ByAddress(addr)
	if !ok {
		return fmt.Errorf("%w: %s", node.ErrUnknownNode, addr)
	}
	return g.enqueue(func() {
		g.invalidateSession(n.ID, protocol.ReasonKicked)
	})
}

// RequestRestart asks the embedding application to restart the gateway
// process via the OnRestartRequested event.
func (g *Gateway) RequestRestart() error {
	return g.enqueue(func() {
		g.log.WithFields(logrus.Fields{
			"function": "RequestRestart",
		}).Info("Restart requested")
		if g.events.OnRestartRequested != nil {
			g.events.OnRestartRequested()
		}
	})
}

// NodeCount returns the number of active sessions.
func (g *Gateway) NodeCount() int {
	return g.registry.Count()
}

// MaxNodes returns the session capacity.
func (g *Gateway) MaxNodes() int {
	return g.registry.MaxNodes()
}

// Nodes returns snapshots of all active sessions.
func (g *Gateway) Nodes() []node.Node {
	return g.registry.Active()
}

// NodeByAddress returns a snapshot of the session for an address.
func (g *Gateway) NodeByAddress(addr protocol.Address) (node.Node, bool) {
	return g.registry.ByAddress(addr)
}

// NodeByName returns a snapshot of the session holding a name.
func (g *Gateway) NodeByName(name string) (node.Node, bool) {
	return g.registry.ByName(name)
}
