// Package wire implements the TaskItem wire codec described in spec
// §6: a flat, self-describing byte layout carrying a function label,
// packed ids, optional squashed argument sections, plain argument
// blobs, an optional return section and an optional sub-activity id
// list. All integers are big-endian so the format is portable across
// architectures, matching the teacher's internal/uapi marshal style of
// explicit field-by-field binary.BigEndian puts/gets rather than an
// unsafe struct cast (those structs have to match a C ABI; ours don't,
// so there is nothing to gain from unsafe casting here).
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	Magic   uint16 = 0xA95A
	Version uint8  = 1
)

// Flag bits, per spec §6.
const (
	FlagWaited         uint8 = 1 << 0
	FlagHasReturn      uint8 = 1 << 1
	FlagHasSubs        uint8 = 1 << 2
	FlagReturnStripped uint8 = 1 << 3
)

// ErrInsufficientData is returned when a buffer is too short to decode
// the structure being read from it.
var ErrInsufficientData = errors.New("wire: insufficient data")

// ErrBadMagic is returned when a buffer doesn't begin with the expected
// magic/version preamble — almost certainly a protocol violation
// (spec §7), not a recoverable condition.
var ErrBadMagic = errors.New("wire: bad magic or unsupported version")

// ActivityID is the wire-level packing of an activity id: finish_id(8)
// spawned_place(2) dst_place(2) local_counter(4), 16 bytes total.
type ActivityID struct {
	FinishID     uint64
	SpawnedPlace uint16
	DstPlace     uint16
	Counter      uint32
}

const activityIDSize = 16

func putActivityID(buf []byte, id ActivityID) {
	binary.BigEndian.PutUint64(buf[0:8], id.FinishID)
	binary.BigEndian.PutUint16(buf[8:10], id.SpawnedPlace)
	binary.BigEndian.PutUint16(buf[10:12], id.DstPlace)
	binary.BigEndian.PutUint32(buf[12:16], id.Counter)
}

func getActivityID(buf []byte) ActivityID {
	return ActivityID{
		FinishID:     binary.BigEndian.Uint64(buf[0:8]),
		SpawnedPlace: binary.BigEndian.Uint16(buf[8:10]),
		DstPlace:     binary.BigEndian.Uint16(buf[10:12]),
		Counter:      binary.BigEndian.Uint32(buf[12:16]),
	}
}

// SquashSection is one per-type squashed argument batch: a TypeId tag,
// the number of logical values folded into it, and the serialized
// Squashed accumulator bytes.
type SquashSection struct {
	TypeTag uint32
	Count   uint32
	Data    []byte
}

// Item is the in-memory mirror of the wire layout. Builders/extracters
// in the root package translate to/from this shape; Item itself knows
// nothing about the apgas package's Place/FinishId/ActivityId types so
// that this package has no import-cycle risk.
type Item struct {
	FnID       uint32
	ActivityID ActivityID
	Waited     bool

	Squash []SquashSection
	Args   [][]byte

	HasReturn      bool
	ReturnStripped bool
	ReturnPanic    bool
	ReturnData     []byte

	SubActivities []ActivityID
}

// Encode serializes an Item per the §6 layout.
func Encode(item *Item) []byte {
	var flags uint8
	if item.Waited {
		flags |= FlagWaited
	}
	if item.HasReturn {
		flags |= FlagHasReturn
	}
	if item.ReturnStripped {
		flags |= FlagReturnStripped
	}
	if len(item.SubActivities) > 0 {
		flags |= FlagHasSubs
	}

	size := 2 + 1 + 1 + 4 + activityIDSize + 2 + 2
	for _, s := range item.Squash {
		size += 4 + 4 + 4 + len(s.Data)
	}
	for _, a := range item.Args {
		size += 4 + len(a)
	}
	if item.HasReturn {
		size += 1 + 4 + len(item.ReturnData)
	}
	if len(item.SubActivities) > 0 {
		size += 4 + len(item.SubActivities)*activityIDSize
	}

	buf := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint16(buf[off:], Magic)
	off += 2
	buf[off] = Version
	off++
	buf[off] = flags
	off++
	binary.BigEndian.PutUint32(buf[off:], item.FnID)
	off += 4
	putActivityID(buf[off:off+activityIDSize], item.ActivityID)
	off += activityIDSize

	binary.BigEndian.PutUint16(buf[off:], uint16(len(item.Squash)))
	off += 2
	for _, s := range item.Squash {
		binary.BigEndian.PutUint32(buf[off:], s.TypeTag)
		off += 4
		binary.BigEndian.PutUint32(buf[off:], s.Count)
		off += 4
		binary.BigEndian.PutUint32(buf[off:], uint32(len(s.Data)))
		off += 4
		copy(buf[off:], s.Data)
		off += len(s.Data)
	}

	binary.BigEndian.PutUint16(buf[off:], uint16(len(item.Args)))
	off += 2
	for _, a := range item.Args {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(a)))
		off += 4
		copy(buf[off:], a)
		off += len(a)
	}

	if item.HasReturn {
		status := byte(0)
		if item.ReturnPanic {
			status = 1
		}
		buf[off] = status
		off++
		binary.BigEndian.PutUint32(buf[off:], uint32(len(item.ReturnData)))
		off += 4
		copy(buf[off:], item.ReturnData)
		off += len(item.ReturnData)
	}

	if len(item.SubActivities) > 0 {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(item.SubActivities)))
		off += 4
		for _, id := range item.SubActivities {
			putActivityID(buf[off:off+activityIDSize], id)
			off += activityIDSize
		}
	}

	return buf
}

// Decode parses an Item from its wire representation.
func Decode(data []byte) (*Item, error) {
	if len(data) < 2+1+1+4+activityIDSize+2+2 {
		return nil, ErrInsufficientData
	}
	off := 0
	magic := binary.BigEndian.Uint16(data[off:])
	off += 2
	version := data[off]
	off++
	if magic != Magic || version != Version {
		return nil, ErrBadMagic
	}
	flags := data[off]
	off++

	item := &Item{
		Waited:         flags&FlagWaited != 0,
		HasReturn:      flags&FlagHasReturn != 0,
		ReturnStripped: flags&FlagReturnStripped != 0,
	}
	hasSubs := flags&FlagHasSubs != 0

	item.FnID = binary.BigEndian.Uint32(data[off:])
	off += 4

	if off+activityIDSize > len(data) {
		return nil, ErrInsufficientData
	}
	item.ActivityID = getActivityID(data[off : off+activityIDSize])
	off += activityIDSize

	if off+2 > len(data) {
		return nil, ErrInsufficientData
	}
	squashCount := binary.BigEndian.Uint16(data[off:])
	off += 2
	for i := uint16(0); i < squashCount; i++ {
		if off+12 > len(data) {
			return nil, ErrInsufficientData
		}
		typeTag := binary.BigEndian.Uint32(data[off:])
		off += 4
		count := binary.BigEndian.Uint32(data[off:])
		off += 4
		length := binary.BigEndian.Uint32(data[off:])
		off += 4
		if off+int(length) > len(data) {
			return nil, ErrInsufficientData
		}
		section := SquashSection{TypeTag: typeTag, Count: count, Data: append([]byte(nil), data[off:off+int(length)]...)}
		item.Squash = append(item.Squash, section)
		off += int(length)
	}

	if off+2 > len(data) {
		return nil, ErrInsufficientData
	}
	argCount := binary.BigEndian.Uint16(data[off:])
	off += 2
	for i := uint16(0); i < argCount; i++ {
		if off+4 > len(data) {
			return nil, ErrInsufficientData
		}
		length := binary.BigEndian.Uint32(data[off:])
		off += 4
		if off+int(length) > len(data) {
			return nil, ErrInsufficientData
		}
		item.Args = append(item.Args, append([]byte(nil), data[off:off+int(length)]...))
		off += int(length)
	}

	if item.HasReturn {
		if off+5 > len(data) {
			return nil, ErrInsufficientData
		}
		status := data[off]
		off++
		item.ReturnPanic = status == 1
		length := binary.BigEndian.Uint32(data[off:])
		off += 4
		if off+int(length) > len(data) {
			return nil, ErrInsufficientData
		}
		item.ReturnData = append([]byte(nil), data[off:off+int(length)]...)
		off += int(length)
	}

	if hasSubs {
		if off+4 > len(data) {
			return nil, ErrInsufficientData
		}
		count := binary.BigEndian.Uint32(data[off:])
		off += 4
		for i := uint32(0); i < count; i++ {
			if off+activityIDSize > len(data) {
				return nil, ErrInsufficientData
			}
			item.SubActivities = append(item.SubActivities, getActivityID(data[off:off+activityIDSize]))
			off += activityIDSize
		}
	}

	return item, nil
}
