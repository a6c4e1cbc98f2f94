package apgas

import (
	"strings"
	"sync"
	"testing"

	"github.com/jaxonwang/apgas-go/internal/wire"
)

// counter is a trivial Squashable type (registered under tag 900) for
// the squash-section scenario tests in this file, analogous to
// basic.rs's A but wrapping a single uint64 field.
type counter struct{ N uint64 }

func (counter) NewSquashed() Squashed { return &counterAcc{} }

// counterAcc's fields are exported so the JSON squash codec carries
// them across the wire.
type counterAcc struct {
	Last uint64
	Seen []uint64
}

func (a *counterAcc) Fold(v any) {
	c := v.(counter)
	a.Seen = append(a.Seen, c.N)
	a.Last = c.N
}

func (a *counterAcc) Extract() (any, bool) {
	n := len(a.Seen)
	if n == 0 {
		return nil, false
	}
	v := a.Seen[n-1]
	a.Seen = a.Seen[:n-1]
	return counter{N: v}, true
}

var scenarioHelpersOnce sync.Once

func ensureScenarioHelpers() {
	scenarioHelpersOnce.Do(func() {
		m := NewHelperMap()
		m.Insert(counter{}, NewHelperByType(900, counter{}))
		InitHelpers(m)
	})
}

// TestSquashHundredCountersMergeIntoOneSection exercises S1's squash
// shape directly: 100 values of one Squashable type fold into a single
// wire section with Count==100, and extracting 100 times in LIFO order
// reconstructs every original value.
func TestSquashHundredCountersMergeIntoOneSection(t *testing.T) {
	ensureScenarioHelpers()

	b := NewTaskItemBuilder(0, Place(0), ActivityId{Finish: NewFinishId(0, 1), SpawnedPlace: 0, DstPlace: 0, Counter: 1})
	for i := uint64(1); i <= 100; i++ {
		b.ArgSquash(counter{N: i})
	}
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	item, err := DecodeTaskItem(data)
	if err != nil {
		t.Fatalf("DecodeTaskItem: %v", err)
	}
	if len(item.squash) != 1 {
		t.Fatalf("got %d squash sections, want 1", len(item.squash))
	}
	w, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("wire.Decode: %v", err)
	}
	if w.Squash[0].Count != 100 {
		t.Fatalf("squash section Count = %d, want 100", w.Squash[0].Count)
	}

	e := NewTaskItemExtracter(item)
	for i := uint64(100); i >= 1; i-- {
		v, ok := e.ArgSquash(900)
		if !ok {
			t.Fatalf("extract %d: missing value", i)
		}
		if got := v.(counter).N; got != i {
			t.Fatalf("extract order: got %d, want %d", got, i)
		}
	}
	if _, ok := e.ArgSquash(900); ok {
		t.Fatalf("expected accumulator exhausted after 100 extracts")
	}
}

// TestPlainArgRoundTripSortedVector exercises S2's argument shape: a
// plain (non-squashed) slice argument round-tripping through the wire
// codec unchanged.
func TestPlainArgRoundTripSortedVector(t *testing.T) {
	b := NewTaskItemBuilder(1, Place(1), ActivityId{Finish: NewFinishId(0, 2), SpawnedPlace: 0, DstPlace: 1, Counter: 2})
	input := []int{5, 3, 8, 1, 4}
	if err := b.Arg(input); err != nil {
		t.Fatalf("Arg: %v", err)
	}
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	item, err := DecodeTaskItem(data)
	if err != nil {
		t.Fatalf("DecodeTaskItem: %v", err)
	}
	e := NewTaskItemExtracter(item)
	var got []int
	if err := e.Arg(&got); err != nil {
		t.Fatalf("Arg extract: %v", err)
	}
	want := []int{5, 3, 8, 1, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestPanicPayloadRoundTrip exercises S4: a remote activity panics with
// payload "boom"; the result envelope carries the panic bit and
// payload; the waiter-side Ret call surfaces it as an error mentioning
// the payload.
func TestPanicPayloadRoundTrip(t *testing.T) {
	activityID := ActivityId{Finish: NewFinishId(0, 3), SpawnedPlace: 0, DstPlace: 1, Counter: 3}

	b := NewTaskItemBuilder(0, activityID.SpawnedPlace, activityID)
	b.Waited()
	b.RetPanic("boom")
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	item, err := DecodeTaskItem(data)
	if err != nil {
		t.Fatalf("DecodeTaskItem: %v", err)
	}
	if item.Kind() != KindResultToWaiter {
		t.Fatalf("Kind() = %v, want KindResultToWaiter", item.Kind())
	}

	var ret struct{}
	err = NewTaskItemExtracter(item).Ret(&ret)
	if err == nil {
		t.Fatal("expected error extracting a panicked return value")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error %q does not mention panic payload", err.Error())
	}
}

// TestResultToParentIsAlwaysStripped exercises the §4.5 invariant that
// the finish-owner-bound result never carries a deserializable value,
// even on success.
func TestResultToParentIsAlwaysStripped(t *testing.T) {
	activityID := ActivityId{Finish: NewFinishId(0, 4), SpawnedPlace: 0, DstPlace: 0, Counter: 4}
	b := NewTaskItemBuilder(0, activityID.FinishID().Place(), activityID)
	b.Stripped()
	if err := b.Ret(struct{}{}); err != nil {
		t.Fatalf("Ret: %v", err)
	}
	b.SubActivities([]ActivityId{
		{Finish: activityID.Finish, SpawnedPlace: 0, DstPlace: 0, Counter: 5},
		{Finish: activityID.Finish, SpawnedPlace: 0, DstPlace: 0, Counter: 6},
	})
	data, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	item, err := DecodeTaskItem(data)
	if err != nil {
		t.Fatalf("DecodeTaskItem: %v", err)
	}
	if item.Kind() != KindResultToParent {
		t.Fatalf("Kind() = %v, want KindResultToParent", item.Kind())
	}
	if len(item.SubActivities) != 2 {
		t.Fatalf("got %d sub-activities, want 2", len(item.SubActivities))
	}
	var discard struct{}
	if err := NewTaskItemExtracter(item).Ret(&discard); err == nil {
		t.Fatal("expected stripped result-to-parent to reject Ret extraction")
	}
}
