package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/crypto"
	"github.com/opd-ai/meshgate/protocol"
)

// DefaultMaxNodes is the default session capacity of a registry.
const DefaultMaxNodes = 35

var (
	// ErrRegistryFull indicates all session slots are taken.
	ErrRegistryFull = errors.New("registry full")

	// ErrUnknownNode indicates no session for the given id or address.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNameTaken indicates the requested name belongs to another node.
	ErrNameTaken = errors.New("name taken")

	// ErrCounterReplayed indicates a message counter at or below the last
	// accepted one.
	ErrCounterReplayed = errors.New("counter replayed")
)

// Registry is a fixed-capacity arena of node sessions with address and name
// lookup. A session's id is its slot index and stays stable for the life of
// the session.
//
// Mutating methods are meant for the gateway's processing loop; read methods
// return copies and are safe from any goroutine.
type Registry struct {
	mu     sync.RWMutex
	slots  []*Node
	byAddr map[protocol.Address]uint16
	byName map[string]uint16
}

// NewRegistry creates a registry with the given session capacity.
// Non-positive capacities fall back to DefaultMaxNodes.
func NewRegistry(maxNodes int) *Registry {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	return &Registry{
		slots:  make([]*Node, maxNodes),
		byAddr: make(map[protocol.Address]uint16),
		byName: make(map[string]uint16),
	}
}

// Reserve returns the session slot for an address, allocating the lowest
// free slot for a new address. The second result reports whether the address
// already had a session; re-reserving is how a node re-runs its handshake.
func (r *Registry) Reserve(addr protocol.Address) (Node, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byAddr[addr]; ok {
		return *r.slots[id], true, nil
	}

	for i, slot := range r.slots {
		if slot != nil {
			continue
		}
		id := uint16(i)
		n := &Node{ID: id, Addr: addr}
		r.slots[i] = n
		r.byAddr[addr] = id
		logrus.WithFields(logrus.Fields{
			"function": "Reserve",
			"address":  addr.String(),
			"node_id":  id,
		}).Debug("Allocated session slot")
		return *n, false, nil
	}

	return Node{}, false, fmt.Errorf("%w: %d sessions", ErrRegistryFull, len(r.slots))
}

// Agree installs a freshly agreed session key, resetting the counter
// discipline and the per-session tallies. The node's name survives a
// re-agreement; everything tied to the old key does not.
func (r *Registry) Agree(id uint16, key [crypto.KeyLength]byte, sleepy bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.get(id)
	if err != nil {
		return err
	}

	n.SessionKey = key
	n.Status = StatusKeyAgreed
	n.Sleepy = sleepy
	n.BroadcastKeyDelivered = false
	n.LastCounter = 0
	n.SendCounter = 0
	n.KeyAgreedAt = at
	n.LastSeen = at
	n.PacketsTotal = 0
	n.PacketsError = 0
	n.SendFailures = 0
	return nil
}

// NextSendCounter advances and returns the downstream message counter for
// the node.
func (r *Registry) NextSendCounter(id uint16) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.get(id)
	if err != nil {
		return 0, err
	}
	n.SendCounter++
	return n.SendCounter, nil
}

// AcceptData applies the counter discipline for one data message and
// updates the session tallies. A counter at or below the last accepted one
// returns ErrCounterReplayed and changes nothing. The first accepted message
// promotes the session to StatusRegistered.
//
// It returns the number of messages lost between this counter and the
// previous one.
func (r *Registry) AcceptData(id uint16, counter uint16, useCounter bool, at time.Time) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.get(id)
	if err != nil {
		return 0, err
	}

	var lost uint16
	if useCounter {
		if counter <= n.LastCounter {
			return 0, fmt.Errorf("%w: counter %d, last %d", ErrCounterReplayed, counter, n.LastCounter)
		}
		lost = counter - n.LastCounter - 1
		n.LastCounter = counter
	}

	n.PacketsTotal += uint32(lost) + 1
	n.PacketsError += uint32(lost)
	n.LastSeen = at
	if n.Status == StatusKeyAgreed {
		n.Status = StatusRegistered
	}
	return lost, nil
}

// Touch updates the last-seen time for sessions whose traffic carries no
// counter, such as clock requests.
func (r *Registry) Touch(id uint16, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.get(id)
	if err != nil {
		return err
	}
	n.LastSeen = at
	return nil
}

// MarkBroadcastKeyDelivered records that the broadcast key reached the node.
func (r *Registry) MarkBroadcastKeyDelivered(id uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.get(id)
	if err != nil {
		return err
	}
	n.BroadcastKeyDelivered = true
	return nil
}

// SetName binds a unique name to the node, replacing its previous name.
// Binding the name a node already holds is a no-op.
func (r *Registry) SetName(id uint16, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.get(id)
	if err != nil {
		return err
	}

	if owner, ok := r.byName[name]; ok {
		if owner == id {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	if n.Name != "" {
		delete(r.byName, n.Name)
	}
	n.Name = name
	r.byName[name] = id
	return nil
}

// RecordSendFailure counts an undelivered downstream message for the
// session behind an address, if one exists.
func (r *Registry) RecordSendFailure(addr protocol.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byAddr[addr]; ok {
		r.slots[id].SendFailures++
	}
}

// Release frees a session slot and its lookups, returning a copy of the
// removed session. Releasing a free slot reports false.
func (r *Registry) Release(id uint16) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) >= len(r.slots) || r.slots[id] == nil {
		return Node{}, false
	}

	n := r.slots[id]
	delete(r.byAddr, n.Addr)
	if n.Name != "" {
		delete(r.byName, n.Name)
	}
	r.slots[id] = nil

	// Wipe the key before the copy leaves; the caller gets metadata only.
	removed := *n
	crypto.ZeroBytes(n.SessionKey[:])
	removed.SessionKey = [crypto.KeyLength]byte{}
	return removed, true
}

// ByAddress returns a copy of the session for an address.
func (r *Registry) ByAddress(addr protocol.Address) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byAddr[addr]
	if !ok {
		return Node{}, false
	}
	return *r.slots[id], true
}

// ByID returns a copy of the session with the given id.
func (r *Registry) ByID(id uint16) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.slots) || r.slots[id] == nil {
		return Node{}, false
	}
	return *r.slots[id], true
}

// ByName returns a copy of the session holding the given name.
func (r *Registry) ByName(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return Node{}, false
	}
	return *r.slots[id], true
}

// Active returns copies of all sessions in slot order.
func (r *Registry) Active() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.byAddr))
	for _, slot := range r.slots {
		if slot != nil {
			out = append(out, *slot)
		}
	}
	return out
}

// Expired returns copies of the sessions whose key age exceeds validity at
// the given time.
func (r *Registry) Expired(now time.Time, validity time.Duration) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Node
	for _, slot := range r.slots {
		if slot == nil || !slot.Registered() {
			continue
		}
		if now.Sub(slot.KeyAgreedAt) > validity {
			out = append(out, *slot)
		}
	}
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}

// MaxNodes returns the registry capacity.
func (r *Registry) MaxNodes() int {
	return len(r.slots)
}

// get returns the slot for an id. Caller holds the lock.
func (r *Registry) get(id uint16) (*Node, error) {
	if int(id) >= len(r.slots) || r.slots[id] == nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownNode, id)
	}
	return r.slots[id], nil
}
