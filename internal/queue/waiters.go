package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/jaxonwang/apgas-go/internal/wire"
)

// Waiters is the per-place registry of pending wait_single futures
// (spec §9: "map ActivityId → Waker/Completion slot ... one-shot
// semantics"). A result-to-waiter envelope arriving before the local
// wait_single call has registered is buffered rather than dropped,
// since delivery and registration race across goroutines.
type Waiters struct {
	mu      sync.Mutex
	pending map[wire.ActivityID]chan *wire.Item
	waited  map[wire.ActivityID]bool // true once a caller has started waiting
}

// NewWaiters returns an empty registry.
func NewWaiters() *Waiters {
	return &Waiters{
		pending: make(map[wire.ActivityID]chan *wire.Item),
		waited:  make(map[wire.ActivityID]bool),
	}
}

func (w *Waiters) slot(id wire.ActivityID) chan *wire.Item {
	ch, ok := w.pending[id]
	if !ok {
		ch = make(chan *wire.Item, 1)
		w.pending[id] = ch
	}
	return ch
}

// Register returns the channel that will receive the result envelope
// for id. Calling Register twice for the same id is a programming
// error — spec §4.5: "multiple waiters on the same id is a
// programming error".
func (w *Waiters) Register(id wire.ActivityID) <-chan *wire.Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.waited[id] {
		panic(fmt.Sprintf("apgas: duplicate wait_single on activity %v", id))
	}
	w.waited[id] = true
	return w.slot(id)
}

// Satisfy delivers a result-to-waiter envelope, waking the
// corresponding wait_single call. Safe to call before or after
// Register.
func (w *Waiters) Satisfy(id wire.ActivityID, item *wire.Item) {
	w.mu.Lock()
	ch := w.slot(id)
	w.mu.Unlock()
	ch <- item
}

// Wait registers id as waited (panicking on the duplicate-waiter
// programming error, same check as Register) and blocks until the
// envelope for id arrives or ctx is done, then releases the slot
// (one-shot).
func (w *Waiters) Wait(ctx context.Context, id wire.ActivityID) (*wire.Item, error) {
	w.mu.Lock()
	if w.waited[id] {
		w.mu.Unlock()
		panic(fmt.Sprintf("apgas: duplicate wait_single on activity %v", id))
	}
	w.waited[id] = true
	ch := w.slot(id)
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		delete(w.waited, id)
		w.mu.Unlock()
	}()

	select {
	case item := <-ch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
