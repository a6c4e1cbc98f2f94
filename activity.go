package apgas

import (
	"fmt"
	"reflect"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// squashJSON is the codec used to serialize Squashed accumulators and
// plain (non-squashed) argument/return values onto the wire. Go has no
// built-in equivalent of the original runtime's generic serde
// derive, and gob's requirement that concrete types be registered
// ahead of time is a worse fit for "any value the caller hands to
// arg(T)" than a reflection-based JSON codec, so this mirrors the
// generic marshaler the aistore examples reach for.
var squashJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Squashable is implemented by argument types eligible for batching
// (spec §4.3). Squashed must be a concrete, independently serializable
// accumulator type. fold/extract must satisfy the LIFO round-trip
// invariant: folding v1..vn then extracting n times yields vn..v1, and
// the accumulator returns to its zero value after the last extract.
type Squashable interface {
	NewSquashed() Squashed
}

// Squashed is the accumulator produced by folding values of a single
// Squashable type. Implementations are user-defined; the runtime only
// needs to fold, extract and serialize them.
type Squashed interface {
	Fold(v any)
	Extract() (any, bool)
}

// typeTag identifies a Squashable's concrete Go type on the wire. It is
// derived from the registered helper, not from reflect.Type directly,
// so that the 4-byte wire tag is stable across binaries (unlike
// reflect's TypeOf which has no portable numeric identity).
type typeTag = uint32

// Helper erases the concrete Squashable type so a single registry can
// hold helpers for heterogeneous types, the same role go-ublk's
// Backend interface plays for heterogeneous storage engines.
type Helper interface {
	Tag() typeTag
	NewSquashed() Squashed
	Marshal(s Squashed) ([]byte, error)
	Unmarshal(data []byte) (Squashed, error)
}

// HelperByType is the concrete Helper for one Squashable type T,
// parameterized via a zero value and a fixed tag. It is the Go
// analogue of the original runtime's generic HelperByType<T>.
type HelperByType struct {
	tag     typeTag
	sample  Squashable
	newFunc func() Squashed
}

// NewHelperByType builds a Helper for a Squashable type, identified on
// the wire by tag. Two helpers must never share a tag within one
// process (spec's HelperMap is keyed by TypeId; tag is our stable
// stand-in for it).
func NewHelperByType(tag typeTag, sample Squashable) *HelperByType {
	return &HelperByType{tag: tag, sample: sample, newFunc: sample.NewSquashed}
}

func (h *HelperByType) Tag() typeTag        { return h.tag }
func (h *HelperByType) NewSquashed() Squashed { return h.newFunc() }

func (h *HelperByType) Marshal(s Squashed) ([]byte, error) {
	return squashJSON.Marshal(s)
}

func (h *HelperByType) Unmarshal(data []byte) (Squashed, error) {
	s := h.newFunc()
	if err := squashJSON.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("apgas: unmarshal squashed: %w", err)
	}
	return s, nil
}

// HelperMap is the process-wide registry of Squashable helpers, keyed
// by reflect.Type so callers register with a value and the runtime can
// look the helper up again from an arg_squash(T) call site. It is
// populated once by init_helpers and is immutable thereafter (spec
// §3's HelperMap invariant).
type HelperMap struct {
	byType map[reflect.Type]Helper
	byTag  map[typeTag]Helper
}

// NewHelperMap returns an empty, mutable registry. Callers build one up
// with Insert and then pass it to InitHelpers.
func NewHelperMap() *HelperMap {
	return &HelperMap{
		byType: make(map[reflect.Type]Helper),
		byTag:  make(map[typeTag]Helper),
	}
}

// Insert registers the helper for the concrete Go type of sample.
// Panics on a duplicate tag or type — a configuration error (spec §7),
// not a runtime condition the caller should need to check for.
func (m *HelperMap) Insert(sample Squashable, helper Helper) {
	t := reflect.TypeOf(sample)
	if _, ok := m.byType[t]; ok {
		panic(fmt.Sprintf("apgas: duplicate squash helper registered for type %s", t))
	}
	if _, ok := m.byTag[helper.Tag()]; ok {
		panic(fmt.Sprintf("apgas: duplicate squash helper tag %d", helper.Tag()))
	}
	m.byType[t] = helper
	m.byTag[helper.Tag()] = helper
}

func (m *HelperMap) forType(v any) (Helper, bool) {
	h, ok := m.byType[reflect.TypeOf(v)]
	return h, ok
}

func (m *HelperMap) forTag(tag typeTag) (Helper, bool) {
	h, ok := m.byTag[tag]
	return h, ok
}

var (
	helpersOnce sync.Once
	helpers     *HelperMap
)

// InitHelpers installs the process-wide squash helper registry. It may
// be called exactly once per process, before genesis starts accepting
// activities; later calls panic (spec §3: "immutable thereafter").
func InitHelpers(m *HelperMap) {
	called := false
	helpersOnce.Do(func() {
		helpers = m
		called = true
	})
	if !called {
		panic("apgas: InitHelpers called more than once")
	}
}

func currentHelpers() *HelperMap {
	if helpers == nil {
		panic("apgas: squash helpers used before InitHelpers")
	}
	return helpers
}
