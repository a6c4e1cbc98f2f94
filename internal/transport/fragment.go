package transport

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/jaxonwang/apgas-go/internal/queue"
)

// fragment is one packet of a long message in flight (spec §4.2's
// send policy): total_len/offset travel as the first four handler
// args in the original design; here, since frames carry their own
// binary header over a TCP stream, they are just struct fields.
type fragment struct {
	totalLen int
	offset   int
	data     []byte
}

// offsetHeap is a min-heap of pending fragment offsets for one source,
// the mechanism spec §4.2 specifies for reassembly without a per-message
// sequence number.
type offsetHeap []fragment

func (h offsetHeap) Len() int           { return len(h) }
func (h offsetHeap) Less(i, j int) bool { return h[i].offset < h[j].offset }
func (h offsetHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x any)        { *h = append(*h, x.(fragment)) }
func (h *offsetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sourceState tracks in-progress reassembly for one sending place.
// Only one fragmented message from a given source may be in flight at
// a time (enforced by the sender's flow control), so a single
// expectingOffset/heap pair per source is sufficient without a message
// id (spec §9's second open question).
type sourceState struct {
	expectingOffset int
	totalLen        int
	buf             []byte
	pending         offsetHeap
	active          bool
}

// Reassembler implements spec §4.2's receiver-side reassembly state
// machine: unfragmented messages are delivered immediately; fragmented
// ones are tiled back together via a per-source min-heap keyed on
// offset.
type Reassembler struct {
	mu      sync.Mutex
	sources map[int]*sourceState
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{sources: make(map[int]*sourceState)}
}

// Feed processes one received fragment from src. If this completes a
// message (immediately, for the unfragmented fast path, or after
// tiling enough fragments), it returns the full payload and true.
func (r *Reassembler) Feed(src, totalLen, offset int, data []byte) ([]byte, bool) {
	if totalLen == len(data) && offset == 0 {
		return data, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sources[src]
	if !ok || !st.active {
		st = &sourceState{
			expectingOffset: 0,
			totalLen:        totalLen,
			buf:             queue.GetBuffer(uint32(totalLen)),
			active:          true,
		}
		r.sources[src] = st
	}
	if totalLen != st.totalLen {
		panic(fmt.Sprintf("transport: reassembly totalLen mismatch from source %d: %d != %d", src, totalLen, st.totalLen))
	}
	if offset < st.expectingOffset {
		panic(fmt.Sprintf("transport: reassembly offset %d below expected %d from source %d: flow control violation", offset, st.expectingOffset, src))
	}

	copy(st.buf[offset:offset+len(data)], data)
	heap.Push(&st.pending, fragment{totalLen: totalLen, offset: offset, data: data})

	for len(st.pending) > 0 && st.pending[0].offset == st.expectingOffset {
		top := heap.Pop(&st.pending).(fragment)
		st.expectingOffset += len(top.data)
	}

	if st.expectingOffset == st.totalLen {
		complete := make([]byte, st.totalLen)
		copy(complete, st.buf)
		queue.PutBuffer(st.buf)
		delete(r.sources, src)
		return complete, true
	}
	return nil, false
}

// Checksum computes an xxhash64 integrity digest over a payload. The
// wire format has no checksum field (spec §6), and neither the send
// path nor Reassembler computes or verifies one; Checksum is a
// standalone helper.
func Checksum(data []byte) uint64 {
	h := xxhash.New64()
	_, _ = h.Write(data)
	return h.Sum64()
}
