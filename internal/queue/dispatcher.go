package queue

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jaxonwang/apgas-go/internal/wire"
)

// RequestHandler executes an activity request locally. Supplied by the
// root package so this package never needs to import it back (spec
// §4.6 step 3: "Request → spawn worker_entry(item) as a new task").
type RequestHandler func(item *wire.Item)

// Dispatcher binds incoming decoded envelopes to the Coordinator and
// Waiters, and to the root package's request handler — the Go
// rendering of genesis()'s message-routing step (spec §4.6). It owns
// no transport state of its own; internal/transport hands it decoded
// bytes, not the other way around, keeping the two packages
// independent of each other.
type Dispatcher struct {
	Coordinator *Coordinator
	Waiters     *Waiters
	OnRequest   RequestHandler

	group  *errgroup.Group
	gctx   context.Context
}

// NewDispatcher wires a Dispatcher against ctx; ctx's cancellation
// stops accepting new request tasks. Every request task returns nil,
// so Wait returns nil once the started tasks have finished. A panic
// inside OnRequest is not recovered by this package.
func NewDispatcher(ctx context.Context, coordinator *Coordinator, waiters *Waiters, onRequest RequestHandler) *Dispatcher {
	g, gctx := errgroup.WithContext(ctx)
	return &Dispatcher{
		Coordinator: coordinator,
		Waiters:     waiters,
		OnRequest:   onRequest,
		group:       g,
		gctx:        gctx,
	}
}

// Dispatch routes one decoded envelope according to its kind. It is
// called from transport receive-handler context and must not block on
// application-level locks (spec §4.2/§5); request execution is handed
// off to the supervised goroutine group rather than run inline.
func (d *Dispatcher) Dispatch(item *wire.Item) {
	switch classify(item) {
	case kindRequest:
		if d.gctx.Err() != nil {
			return
		}
		d.group.Go(func() error {
			d.OnRequest(item)
			return nil
		})
	case kindResultToParent:
		d.Coordinator.OnResult(item.ActivityID.FinishID, len(item.SubActivities))
	case kindResultToWaiter:
		d.Waiters.Satisfy(item.ActivityID, item)
	}
}

// Wait blocks until every dispatched request task has returned.
// Used during teardown (spec §4.6 step 5: "block ... until all places
// have quiesced").
func (d *Dispatcher) Wait() error {
	return d.group.Wait()
}

type envelopeKind int

const (
	kindRequest envelopeKind = iota
	kindResultToParent
	kindResultToWaiter
)

func classify(item *wire.Item) envelopeKind {
	if !item.HasReturn {
		return kindRequest
	}
	if item.ReturnStripped {
		return kindResultToParent
	}
	return kindResultToWaiter
}
