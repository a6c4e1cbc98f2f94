package apgas

import "sync/atomic"

// FinishId packs (origin_place, local_counter) into 64 bits. It is
// created by new_frame() on the place that opens the finish scope and
// is globally unique because the counter is per-origin (spec §3).
type FinishId uint64

// NewFinishId packs a place and a monotonic per-place counter into a
// FinishId. IDs are opaque bit patterns on the wire; equal bit pattern
// means equal identity.
func NewFinishId(origin Place, counter uint32) FinishId {
	return FinishId(uint64(uint32(origin))<<32 | uint64(counter))
}

// Place returns the place that opened this finish scope.
func (f FinishId) Place() Place { return Place(int32(uint32(f >> 32))) }

// Counter returns the per-origin monotonic counter component.
func (f FinishId) Counter() uint32 { return uint32(f) }

// FunctionLabel identifies a concrete activity function, assigned at
// build time (by the macro layer, out of scope here) and used to
// select a deserializer/dispatcher on the receiving place.
type FunctionLabel uint32

// ActivityId is 128 bits packing (finish_id, spawned_place, dst_place,
// local_counter). It is self-describing: any place can recover routing
// information from the id alone, without consulting a registry.
//
// On the wire the four fields are packed into exactly 16 bytes:
// finish_id (8), spawned_place (2), dst_place (2), local_counter (4).
// Using 16-bit place fields keeps the id at 16 bytes total as specified
// in §6 while still packing all four logical fields described in §3;
// this resolves the "or similar packing" hedge in the wire-format note.
type ActivityId struct {
	Finish       FinishId
	SpawnedPlace Place
	DstPlace     Place
	Counter      uint32
}

// FinishID returns the finish scope this activity belongs to.
func (a ActivityId) FinishID() FinishId { return a.Finish }

// String renders a compact, log-friendly representation.
func (a ActivityId) String() string {
	return itoa64(uint64(a.Finish)) + "/" + itoa64(uint64(a.SpawnedPlace)) + "->" + itoa64(uint64(a.DstPlace)) + "#" + itoa64(uint64(a.Counter))
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// idCounters tracks the per-process monotonic counters used to build
// FinishId and ActivityId values. A counter is never reused within a
// process lifetime (spec §4.1).
type idCounters struct {
	finish   atomic.Uint32
	activity atomic.Uint32
}

var globalCounters idCounters

// newLocalFinishId allocates a fresh FinishId rooted at here().
func newLocalFinishId() FinishId {
	n := globalCounters.finish.Add(1)
	return NewFinishId(Here(), n)
}

// newLocalActivityId allocates a fresh ActivityId for an activity
// spawned from here(), bound to finishID and destined for dst.
func newLocalActivityId(finishID FinishId, dst Place) ActivityId {
	n := globalCounters.activity.Add(1)
	return ActivityId{
		Finish:       finishID,
		SpawnedPlace: Here(),
		DstPlace:     dst,
		Counter:      n,
	}
}
