package meshgate

import "errors"

// Engine errors. Per-message failures are returned to the dispatch loop and
// logged; none of them stop the engine.
var (
	// ErrHelloRejected indicates a ClientHello that failed authentication
	// against the network key. No session is created or touched.
	ErrHelloRejected = errors.New("client hello rejected")

	// ErrUnregisteredSender indicates a message from an address without an
	// agreed session key.
	ErrUnregisteredSender = errors.New("sender not registered")

	// ErrWrongDirection indicates an inbound message of a type only the
	// gateway sends.
	ErrWrongDirection = errors.New("gateway-originated message received")

	// ErrUnknownMessage indicates an unrecognized message type byte.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrEngineBusy indicates the engine's command queue is full.
	ErrEngineBusy = errors.New("command queue full")

	// ErrClosed indicates an operation on a closed gateway.
	ErrClosed = errors.New("gateway closed")
)
