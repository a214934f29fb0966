// Package buffer provides the bounded message queue that decouples the
// transport receive callback from the gateway's processing loop.
//
// The queue is a fixed circular buffer backed by a bounded overflow store.
// When the ring is full, the oldest frame is displaced into the overflow
// store instead of being discarded, so a burst larger than the ring only
// loses data once the overflow store is exhausted too.
//
// Example:
//
//	q := buffer.NewQueue(8, 15, buffer.OverflowFIFO)
//	q.Push(frame) // transport goroutine
//
//	for {          // engine loop
//	    f, ok := q.Next()
//	    if !ok {
//	        break
//	    }
//	    process(f)
//	}
package buffer

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate/protocol"
)

const (
	// DefaultDepth is the default capacity of the primary ring.
	DefaultDepth = 8

	// DefaultOverflowDepth is the default capacity of the overflow store.
	DefaultOverflowDepth = 15
)

// OverflowPolicy selects the order in which displaced frames leave the
// overflow store.
type OverflowPolicy int

const (
	// OverflowFIFO serves displaced frames oldest first, preserving arrival
	// order within the overflow store. This is the default.
	OverflowFIFO OverflowPolicy = iota

	// OverflowLIFO serves the most recently displaced frame first. It exists
	// for deployments that favor recency when a burst overruns the ring.
	OverflowLIFO
)

// String returns a short name for the policy, for logs.
func (p OverflowPolicy) String() string {
	if p == OverflowLIFO {
		return "LIFO"
	}
	return "FIFO"
}

// Queue is a bounded frame queue safe for one producer and one consumer on
// different goroutines. All methods take the same internal lock.
type Queue struct {
	mu sync.Mutex

	buf      []protocol.Frame
	readIdx  int
	writeIdx int
	count    int

	// overflow holds frames displaced from the ring. It is allocated on
	// first use and released once fully drained, so an idle queue costs only
	// the ring itself.
	overflow    []protocol.Frame
	overflowCap int
	policy      OverflowPolicy

	dropped uint64
}

// NewQueue creates a queue with the given ring depth, overflow depth and
// overflow policy. Non-positive depths fall back to the defaults.
func NewQueue(depth, overflowDepth int, policy OverflowPolicy) *Queue {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if overflowDepth <= 0 {
		overflowDepth = DefaultOverflowDepth
	}
	return &Queue{
		buf:         make([]protocol.Frame, depth),
		overflowCap: overflowDepth,
		policy:      policy,
	}
}

// Push enqueues a frame. It never rejects the new frame: when the ring is
// full the oldest frame is displaced into the overflow store and Push
// returns false to signal the displacement. The displaced frame is dropped
// only when the overflow store is full as well.
func (q *Queue) Push(f protocol.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	displaced := false
	if q.count == len(q.buf) {
		q.spill(q.buf[q.readIdx])
		q.readIdx = (q.readIdx + 1) % len(q.buf)
		q.count--
		displaced = true
	}

	q.buf[q.writeIdx] = f
	q.writeIdx = (q.writeIdx + 1) % len(q.buf)
	q.count++

	return !displaced
}

// spill moves a displaced frame into the overflow store, dropping it when
// the store is at capacity. Caller holds the lock.
func (q *Queue) spill(f protocol.Frame) {
	if len(q.overflow) >= q.overflowCap {
		q.dropped++
		logrus.WithFields(logrus.Fields{
			"function":      "spill",
			"sender":        f.Addr.String(),
			"dropped_total": q.dropped,
		}).Warn("Overflow store full, dropping displaced frame")
		return
	}
	if q.overflow == nil {
		q.overflow = make([]protocol.Frame, 0, q.overflowCap)
	}
	q.overflow = append(q.overflow, f)
}

// Front returns the oldest frame of the ring without removing it. When the
// ring is empty and the overflow store is not, Front removes and returns a
// frame from the overflow store according to the policy.
func (q *Queue) Front() (protocol.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count > 0 {
		return q.buf[q.readIdx], true
	}
	return q.takeOverflow()
}

// Pop removes the oldest frame of the ring. It returns false when the ring
// is empty, even if the overflow store is not.
func (q *Queue) Pop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return false
	}
	q.buf[q.readIdx] = protocol.Frame{}
	q.readIdx = (q.readIdx + 1) % len(q.buf)
	q.count--
	return true
}

// Next removes and returns the frame Front would serve, in one locked step.
// This is the processing loop's drain path: a Front and Pop pair would race
// with a concurrent Push between the two calls.
func (q *Queue) Next() (protocol.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count > 0 {
		f := q.buf[q.readIdx]
		q.buf[q.readIdx] = protocol.Frame{}
		q.readIdx = (q.readIdx + 1) % len(q.buf)
		q.count--
		return f, true
	}
	return q.takeOverflow()
}

// takeOverflow removes one frame from the overflow store according to the
// policy, releasing the store once empty. Caller holds the lock.
func (q *Queue) takeOverflow() (protocol.Frame, bool) {
	if len(q.overflow) == 0 {
		return protocol.Frame{}, false
	}

	var f protocol.Frame
	if q.policy == OverflowLIFO {
		f = q.overflow[len(q.overflow)-1]
		q.overflow = q.overflow[:len(q.overflow)-1]
	} else {
		f = q.overflow[0]
		q.overflow = q.overflow[1:]
	}

	if len(q.overflow) == 0 {
		q.overflow = nil
	}
	return f, true
}

// Len returns the number of frames in the primary ring.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// OverflowLen returns the number of displaced frames waiting in the
// overflow store.
func (q *Queue) OverflowLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.overflow)
}

// Dropped returns the number of frames lost because both the ring and the
// overflow store were full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Capacity returns the ring depth and overflow depth.
func (q *Queue) Capacity() (int, int) {
	return len(q.buf), q.overflowCap
}
