package apgas

import (
	"fmt"
	"reflect"

	"github.com/jaxonwang/apgas-go/internal/wire"
)

// Kind classifies a decoded TaskItem by the role it plays once it
// arrives at its destination (spec §3). It is derived, never stored on
// the wire.
type Kind int

const (
	// KindRequest carries arguments for a not-yet-executed activity.
	KindRequest Kind = iota
	// KindResultToParent reports completion (status + sub-activities)
	// to the finish owner.
	KindResultToParent
	// KindResultToWaiter carries the full return value to the place
	// that is blocked in wait_single.
	KindResultToWaiter
)

// TaskItem is the decoded, in-memory form of one wire envelope.
type TaskItem struct {
	FnID       FunctionLabel
	DstPlace   Place
	ActivityID ActivityId
	Waited     bool

	squash []squashedSection // decode-side: one per type present on the wire
	args   [][]byte          // decode-side: plain args in order, not yet consumed

	HasReturn      bool
	ReturnStripped bool
	ReturnPanic    bool
	ReturnData     []byte

	SubActivities []ActivityId

	nextArg int
}

type squashedSection struct {
	tag  uint32
	data Squashed
}

// Kind derives the envelope's role. A result carries a return section;
// whether it targets the finish owner or the waiter is determined by
// ReturnStripped (the finish owner always gets the stripped form, per
// §4.5 — the full form only ever travels to a waiter).
func (t *TaskItem) Kind() Kind {
	if !t.HasReturn {
		return KindRequest
	}
	if t.ReturnStripped {
		return KindResultToParent
	}
	return KindResultToWaiter
}

// TaskItemBuilder incrementally assembles a TaskItem for sending (spec
// §4.3). Zero value is not usable; construct with NewTaskItemBuilder.
type TaskItemBuilder struct {
	fnID       FunctionLabel
	dstPlace   Place
	activityID ActivityId
	waited     bool

	squashOrder  []reflect.Type
	squashAcc    map[reflect.Type]Squashed
	squashCount  map[reflect.Type]uint32
	squashHelper map[reflect.Type]Helper

	args [][]byte

	hasReturn      bool
	returnStripped bool
	returnPanic    bool
	returnData     []byte

	subActivities []ActivityId
}

// NewTaskItemBuilder starts a builder for an activity request or
// result envelope. dst is the place this particular envelope is being
// sent to (which differs from activityID.DstPlace for result
// envelopes — see global_id.go).
func NewTaskItemBuilder(fnID FunctionLabel, dst Place, activityID ActivityId) *TaskItemBuilder {
	return &TaskItemBuilder{
		fnID:         fnID,
		dstPlace:     dst,
		activityID:   activityID,
		squashAcc:    make(map[reflect.Type]Squashed),
		squashCount:  make(map[reflect.Type]uint32),
		squashHelper: make(map[reflect.Type]Helper),
	}
}

// Waited marks this request as awaited by the spawner; the executed
// activity will send a full result-to-waiter envelope in addition to
// the always-sent stripped result-to-parent one.
func (b *TaskItemBuilder) Waited() { b.waited = true }

// Arg appends a plain (non-squashed) argument, serialized with the
// same generic codec used for squash accumulators.
func (b *TaskItemBuilder) Arg(v any) error {
	data, err := squashJSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("apgas: encode arg: %w", err)
	}
	b.args = append(b.args, data)
	return nil
}

// ArgSquash appends a Squashable argument, folding it into the
// per-type accumulator for v's concrete type. The helper for that type
// must already be registered via InitHelpers.
func (b *TaskItemBuilder) ArgSquash(v Squashable) {
	t := reflect.TypeOf(v)
	acc, ok := b.squashAcc[t]
	if !ok {
		helper, ok := currentHelpers().forType(v)
		if !ok {
			panic(fmt.Sprintf("apgas: no squash helper registered for type %s", t))
		}
		acc = helper.NewSquashed()
		b.squashAcc[t] = acc
		b.squashHelper[t] = helper
		b.squashOrder = append(b.squashOrder, t)
	}
	acc.Fold(v)
	b.squashCount[t]++
	globalMetrics.SquashedArgsFolded.Add(1)
}

// Ret encodes a successful return value.
func (b *TaskItemBuilder) Ret(v any) error {
	data, err := squashJSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("apgas: encode return: %w", err)
	}
	b.hasReturn = true
	b.returnPanic = false
	b.returnData = data
	return nil
}

// RetPanic encodes a panic payload as the return value.
func (b *TaskItemBuilder) RetPanic(payload string) {
	b.hasReturn = true
	b.returnPanic = true
	b.returnData = []byte(payload)
}

// Stripped marks the return as the status-only form sent to the finish
// owner (no deserializable value, spec §4.5).
func (b *TaskItemBuilder) Stripped() {
	b.returnStripped = true
	b.returnData = nil
}

// SubActivities records the activities spawned during this activity's
// own execution, reported upward atomically with its own completion.
func (b *TaskItemBuilder) SubActivities(ids []ActivityId) {
	b.subActivities = append([]ActivityId(nil), ids...)
}

// Build serializes the accumulated builder state to wire bytes.
func (b *TaskItemBuilder) Build() ([]byte, error) {
	item := &wire.Item{
		FnID:       uint32(b.fnID),
		ActivityID: toWireActivityID(b.activityID),
		Waited:     b.waited,
	}

	for _, t := range b.squashOrder {
		helper := b.squashHelper[t]
		data, err := helper.Marshal(b.squashAcc[t])
		if err != nil {
			return nil, fmt.Errorf("apgas: encode squash section: %w", err)
		}
		item.Squash = append(item.Squash, wire.SquashSection{
			TypeTag: helper.Tag(),
			Count:   b.squashCount[t],
			Data:    data,
		})
		globalMetrics.SquashSectionsSent.Add(1)
	}

	item.Args = b.args

	if b.hasReturn {
		item.HasReturn = true
		item.ReturnStripped = b.returnStripped
		item.ReturnPanic = b.returnPanic
		if !b.returnStripped {
			item.ReturnData = b.returnData
		}
	}

	for _, id := range b.subActivities {
		item.SubActivities = append(item.SubActivities, toWireActivityID(id))
	}

	return wire.Encode(item), nil
}

// DecodeTaskItem parses a wire envelope addressed to here().
func DecodeTaskItem(data []byte) (*TaskItem, error) {
	w, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}
	return TaskItemFromWire(w)
}

// TaskItemFromWire completes decoding of an already-parsed wire.Item
// (the dispatcher parses once to classify Request/Result envelopes
// before a Request's squash sections need decoding at all).
func TaskItemFromWire(w *wire.Item) (*TaskItem, error) {
	t := &TaskItem{
		FnID:           FunctionLabel(w.FnID),
		DstPlace:       Here(),
		ActivityID:     fromWireActivityID(w.ActivityID),
		Waited:         w.Waited,
		args:           w.Args,
		HasReturn:      w.HasReturn,
		ReturnStripped: w.ReturnStripped,
		ReturnPanic:    w.ReturnPanic,
		ReturnData:     w.ReturnData,
	}
	for _, s := range w.Squash {
		helper, ok := currentHelpers().forTag(s.TypeTag)
		if !ok {
			return nil, fmt.Errorf("apgas: no squash helper registered for wire tag %d", s.TypeTag)
		}
		acc, err := helper.Unmarshal(s.Data)
		if err != nil {
			return nil, err
		}
		t.squash = append(t.squash, squashedSection{tag: s.TypeTag, data: acc})
	}
	for _, id := range w.SubActivities {
		t.SubActivities = append(t.SubActivities, fromWireActivityID(id))
	}
	return t, nil
}

// TaskItemExtracter mirrors TaskItemBuilder on the decode side: a
// cursor that pops plain arguments out of a TaskItem in the order the
// builder appended them, and squashed arguments in reverse (LIFO)
// order per type.
type TaskItemExtracter struct {
	item *TaskItem
}

// NewTaskItemExtracter wraps a decoded TaskItem for field-by-field
// extraction.
func NewTaskItemExtracter(item *TaskItem) *TaskItemExtracter {
	return &TaskItemExtracter{item: item}
}

func (e *TaskItemExtracter) FnID() FunctionLabel    { return e.item.FnID }
func (e *TaskItemExtracter) ActivityID() ActivityId { return e.item.ActivityID }
func (e *TaskItemExtracter) Waited() bool           { return e.item.Waited }

// ArgSquash pops the next value for the squash section matching tag.
// Extraction is LIFO within the section (spec §3's round-trip
// invariant): the caller is expected to call this the same number of
// times as fold was called on the sender side, for the same tag.
func (e *TaskItemExtracter) ArgSquash(tag uint32) (any, bool) {
	for _, s := range e.item.squash {
		if s.tag == tag {
			return s.data.Extract()
		}
	}
	return nil, false
}

// Arg deserializes the next plain argument into v (a pointer).
func (e *TaskItemExtracter) Arg(v any) error {
	if e.item.nextArg >= len(e.item.args) {
		return fmt.Errorf("apgas: no more plain args to extract")
	}
	data := e.item.args[e.item.nextArg]
	e.item.nextArg++
	if err := squashJSON.Unmarshal(data, v); err != nil {
		return fmt.Errorf("apgas: decode arg: %w", err)
	}
	return nil
}

// Ret deserializes the return value into v (a pointer). Only valid for
// a full (non-stripped) result envelope.
func (e *TaskItemExtracter) Ret(v any) error {
	if !e.item.HasReturn || e.item.ReturnStripped {
		return fmt.Errorf("apgas: no deserializable return value on this envelope")
	}
	if e.item.ReturnPanic {
		return fmt.Errorf("apgas: activity panicked: %s", string(e.item.ReturnData))
	}
	if err := squashJSON.Unmarshal(e.item.ReturnData, v); err != nil {
		return fmt.Errorf("apgas: decode return: %w", err)
	}
	return nil
}

func toWireActivityID(a ActivityId) wire.ActivityID {
	return wire.ActivityID{
		FinishID:     uint64(a.Finish),
		SpawnedPlace: uint16(a.SpawnedPlace),
		DstPlace:     uint16(a.DstPlace),
		Counter:      a.Counter,
	}
}

func fromWireActivityID(w wire.ActivityID) ActivityId {
	return ActivityId{
		Finish:       FinishId(w.FinishID),
		SpawnedPlace: Place(w.SpawnedPlace),
		DstPlace:     Place(w.DstPlace),
		Counter:      w.Counter,
	}
}
