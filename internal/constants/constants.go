// Package constants holds the sizing and timing constants shared across
// the transport, wire, and queue layers.
package constants

import "time"

// Default configuration constants
const (
	// DefaultQueueDepth is a default per-place in-flight activity count.
	// No package in this module reads it: the dispatcher starts one
	// goroutine per request without a cap.
	DefaultQueueDepth = 128

	// DefaultSegmentLen is the default size (bytes) requested for a
	// place's registered segment before rounding to chunk_size*W.
	DefaultSegmentLen = 64 << 20 // 64MB

	// DefaultMaxMedium is the default single-shot medium active-message
	// payload size. Messages smaller than this are sent as one medium AM.
	DefaultMaxMedium = 16 << 10 // 16KB

	// DefaultMaxLong is the default per-packet long active-message
	// payload size used when fragmenting a message.
	DefaultMaxLong = 4 << 10 // 4KB

	// AutoAssignDeviceID-style sentinel: unused place id.
	InvalidPlace = -1
)

// Timing constants for cluster bring-up.
//
// Rendezvous (the bootstrap control plane) requires every place to
// register with place 0 before any place is allowed to send an active
// message. Without bounded retries, a slow-starting peer can hang the
// whole cluster indefinitely with no diagnostic.
const (
	// RendezvousPollInterval is a polling interval for topology fetches.
	// The bootstrap protocol does not read it: a non-coordinator place
	// retries its dials at DialRetryInterval instead.
	RendezvousPollInterval = 10 * time.Millisecond

	// RendezvousTimeout is the maximum time genesis() waits for every
	// place to register before treating bring-up as fatally stuck.
	RendezvousTimeout = 30 * time.Second

	// DialRetryInterval is the delay between connection attempts to a
	// peer place during bring-up (peers may start in any order).
	DialRetryInterval = 20 * time.Millisecond

	// DialRetryTimeout bounds how long a place will keep dialing a peer
	// before giving up and aborting the process.
	DialRetryTimeout = 10 * time.Second
)

// FlowControlCapacity is the bounded capacity of the per-destination
// reply-token channel described in spec §4.2: exactly one outstanding
// fragmented send may be in flight per destination at a time.
const FlowControlCapacity = 1
