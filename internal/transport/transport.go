// Package transport implements the active-message layer described in
// spec §4.2: a GASNet-like abstraction of short/medium/long active
// messages over a segmented shared-memory model, here realized on top
// of plain TCP streams between places (the "concrete network bytes"
// the root spec explicitly leaves as an external collaborator — only
// the capabilities in spec §4.5 are required of it).
//
// Grounded on the teacher's internal/queue runner: a Config struct
// carrying the tunables, a constructor that dials/listens and starts
// background goroutines, and a context.Context-scoped lifetime.
package transport

import (
	"context"
	"fmt"
)

// Config mirrors spec §4.2's sizing knobs. Segment/chunk sizing in
// this implementation is logical bookkeeping only (there is no real
// RDMA-registered memory region over TCP); it is kept because
// internal/transport/ring's same-host variant does back it with real
// mmap'd shared memory, and the two implementations share this Config.
type Config struct {
	World     int
	Here      int
	Addresses []string // Addresses[i] is the dial target for place i

	SegmentLen int
	MaxMedium  int
	MaxLong    int

	// OnFragmentedSend, if set, is called once per Send that takes the
	// fragmented long path. OnFlowControlBlock, if set, is called each
	// time a long send has to wait for the per-destination flow gate
	// (spec §4.2) before it can start. Both are optional instrumentation
	// hooks; Config has no dependency on the root package's Metrics type
	// to avoid an import cycle.
	OnFragmentedSend   func()
	OnFlowControlBlock func()
}

// ChunkSize is the per-source slice of a destination's logical segment
// (spec §4.2: "chunk i in peer p's segment is reserved for messages
// flowing here → p sourced from rank i").
func (c *Config) ChunkSize() int {
	return c.SegmentLen / c.World
}

// Handler processes one received active message. src is the sending
// place; data is the complete (reassembled, if fragmented) payload.
type Handler func(src int, data []byte)

// Transport is the capability set spec §4.2 requires of the
// underlying AM library: short/medium/long sends plus handler
// registration. "Short" carries no payload beyond its args and is used
// only for the reassembly-complete reply; application messages always
// go through Medium or Long depending on size (spec's send policy).
type Transport interface {
	// RegisterHandler installs the single process-wide receive
	// handler. Must be called before Run.
	RegisterHandler(h Handler)

	// Run starts accepting connections and dials peers; it blocks
	// until ctx is cancelled or a fatal transport error occurs (spec
	// §7: transport errors are fatal, not retried).
	Run(ctx context.Context) error

	// Send delivers data to dst, applying the medium/long split and
	// long-message flow control transparently (spec §4.2's send
	// policy). It blocks until local-complete.
	Send(dst int, data []byte) error

	// Ready closes once this place has a live connection to every peer
	// (genesis bring-up's final bring-up gate — sending before every
	// peer is reachable would otherwise race the full-mesh handshake).
	Ready() <-chan struct{}

	// Close tears down all connections.
	Close() error
}

// ErrOversized is returned when an application payload cannot fit in a
// single destination's chunk even after fragmentation — a fatal
// configuration error per spec §7, surfaced here as a normal Go error
// so the caller can log context before aborting.
type ErrOversized struct {
	Size, ChunkSize int
}

func (e *ErrOversized) Error() string {
	return fmt.Sprintf("transport: message of %d bytes exceeds chunk size %d", e.Size, e.ChunkSize)
}
