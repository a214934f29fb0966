// Package meshgate implements the gateway side of an encrypted low-power
// sensor network: it registers nodes through an authenticated key agreement,
// keeps one encrypted session per node, classifies and dispatches every
// protocol message, and buffers inbound radio traffic so the receive path
// never waits on application work.
//
// # Getting Started
//
// Create a Gateway over a transport and drive its processing loop:
//
//	hub := transport.NewMemoryHub()
//	options := meshgate.NewOptions()
//	options.Transport = hub.Endpoint(gatewayAddr)
//	options.Identity = meshgate.NewIdentity("greenhouse", "secret passphrase", 6)
//	options.Events = meshgate.Events{
//	    OnDataReceived: func(addr protocol.Address, payload []byte, encoding protocol.PayloadEncoding, lost uint16, control bool, name string) {
//	        fmt.Printf("%s: %d bytes (%d lost)\n", addr, len(payload), lost)
//	    },
//	}
//
//	gw, err := meshgate.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go gw.Run(ctx)
//
// Nodes join by sending a ClientHello sealed under the shared network key;
// the gateway answers with its public key, both sides derive the session
// key, and data flows under it. Downstream traffic goes out through
// SendDownstream and BroadcastDownstream.
//
// # Architecture
//
// The engine composes the subpackages:
//
//   - protocol: wire formats, opcodes, addresses, frame limits
//   - crypto: key pairs, session key derivation, the sealed envelope
//   - buffer: the bounded inbound queue with its overflow store
//   - node: the session registry and per-node metrics
//   - transport: the link abstraction (in-memory, UDP, Noise-wrapped)
//   - api: an optional REST surface over a running gateway
//
// All session state changes happen on the processing loop driven by Handle
// or Run; public methods that need to mutate sessions queue their work
// there. Reads return snapshots and are safe from any goroutine.
package meshgate
