package apgas

import "sync"

// ApgasContext is the capability an activity function receives (spec
// §4.5/§6): it can spawn sub-activities under the activity's own
// finish scope and inspect what it has spawned so far so the runtime
// can report that list upward when the activity completes.
type ApgasContext interface {
	// FinishID returns the finish scope this context is bound to.
	FinishID() FinishId
	// Spawn allocates a fresh ActivityId bound to this context's
	// finish scope, destined for dst, and records it in Spawned().
	Spawn(dst Place) ActivityId
	// Spawned returns the activities spawned so far under this
	// context's own execution.
	Spawned() []ActivityId
}

// ConcreteContext is the default ApgasContext implementation (spec
// §4.5/§6's ConcreteContext).
type ConcreteContext struct {
	finishID FinishId

	mu      sync.Mutex
	spawned []ActivityId
}

var _ ApgasContext = (*ConcreteContext)(nil)

// NewFrame opens a new finish scope rooted at here() and returns a
// context bound to it. Only meaningful on the place that will later
// call WaitAll for this scope (spec §4.4: "new_frame() — opens a
// finish (origin place only)").
func NewFrame() *ConcreteContext {
	finishID := newLocalFinishId()
	currentRuntime().coordinator.Open(uint64(finishID))
	return &ConcreteContext{finishID: finishID}
}

// Inherit builds a context for executing an activity that already
// belongs to an existing finish scope — the normal case for any
// activity running on a place other than the scope's origin (spec
// §4.5: "inherit(finish_id) — for remote execution under an existing
// finish").
func Inherit(finishID FinishId) *ConcreteContext {
	return &ConcreteContext{finishID: finishID}
}

func (c *ConcreteContext) FinishID() FinishId { return c.finishID }

// Spawn allocates an id for a new activity under this context's finish
// scope and records it so Spawned() can report it upward when this
// activity's own execution completes (spec §4.4 case 2's "sub-activity
// list").
func (c *ConcreteContext) Spawn(dst Place) ActivityId {
	id := newLocalActivityId(c.finishID, dst)

	if c.finishID.Place() == Here() {
		// Spawner is the finish's origin: the coordinator learns about
		// this activity immediately (spec §4.4 case 1).
		currentRuntime().coordinator.OnLocalSpawn(uint64(c.finishID))
	}

	c.mu.Lock()
	c.spawned = append(c.spawned, id)
	c.mu.Unlock()

	currentRuntime().metrics.ActivitiesSpawned.Add(1)
	return id
}

// Spawned returns a snapshot of the activities spawned during this
// context's own activity execution.
func (c *ConcreteContext) Spawned() []ActivityId {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ActivityId(nil), c.spawned...)
}
