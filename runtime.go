package apgas

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jaxonwang/apgas-go/internal/queue"
	apgastransport "github.com/jaxonwang/apgas-go/internal/transport"
	"github.com/jaxonwang/apgas-go/internal/wire"
)

// runtimeState is the process-wide singleton bound during genesis
// (spec §9: "Singleton transport context ... a once-initialized
// process-wide handle guarded by an atomic init flag; handlers capture
// it via that handle, not via per-call state"). It is mutated only
// during bring-up/teardown; in steady state it is read-only.
type runtimeState struct {
	transport   apgastransport.Transport
	coordinator *queue.Coordinator
	waiters     *queue.Waiters
	dispatcher  *queue.Dispatcher
	metrics     *Metrics
	cancel      context.CancelFunc
}

var runtimePtr atomic.Pointer[runtimeState]

func currentRuntime() *runtimeState {
	p := runtimePtr.Load()
	if p == nil {
		panic("apgas: runtime used before genesis()")
	}
	return p
}

// setRuntime installs the singleton exactly once; a second call is a
// configuration error (spec §9: "exactly one instance ever").
func setRuntime(rt *runtimeState) {
	if !runtimePtr.CompareAndSwap(nil, rt) {
		panic("apgas: genesis() called more than once in this process")
	}
}

// Send hands a pre-built wire envelope to the transport, addressed to
// dst. Used by hand-written (macro-equivalent) activity stubs for the
// d != here() case (spec §4.5).
func Send(dst Place, data []byte) error {
	if err := currentRuntime().transport.Send(int(dst), data); err != nil {
		return WrapError("send", ErrCodeTransportFailure, err)
	}
	currentRuntime().metrics.MessagesSent.Add(1)
	currentRuntime().metrics.BytesSent.Add(uint64(len(data)))
	return nil
}

// WaitSingle blocks until the result-to-waiter envelope for id is
// delivered locally, then returns it decoded (spec §4.5/§9: one-shot
// completion slot keyed by ActivityId). The caller extracts the
// return value or panic payload with NewTaskItemExtracter.
func WaitSingle(id ActivityId) (*TaskItem, error) {
	w, err := currentRuntime().waiters.Wait(context.Background(), toWireActivityID(id))
	if err != nil {
		return nil, WrapError("wait_single", ErrCodeProtocolViolation, err)
	}
	return TaskItemFromWire(w)
}

// WaitAll blocks until ctx's finish scope has zero outstanding
// activities (spec §4.4).
func WaitAll(ctx *ConcreteContext) error {
	start := time.Now()
	err := currentRuntime().coordinator.WaitAll(context.Background(), uint64(ctx.FinishID()))
	if err != nil {
		return WrapError("wait_all", ErrCodeProtocolViolation, err)
	}
	currentRuntime().metrics.ObserveWaitAll(uint64(time.Since(start).Nanoseconds()))
	return nil
}

// SendResultToParent builds and sends (or, if the finish owner is
// here(), delivers locally) the always-required stripped result
// envelope that lets the coordinator account for this activity's
// completion and any sub-activities it spawned (spec §4.4's ordering
// rule: this send happens before SendResultToWaiter).
func SendResultToParent(activityID ActivityId, panicPayload string, didPanic bool, subActivities []ActivityId) error {
	rt := currentRuntime()
	if didPanic {
		rt.metrics.ActivitiesPanicked.Add(1)
	} else {
		rt.metrics.ActivitiesDone.Add(1)
	}

	b := NewTaskItemBuilder(0, activityID.FinishID().Place(), activityID)
	b.Stripped()
	if didPanic {
		b.RetPanic(panicPayload)
	} else {
		if err := b.Ret(struct{}{}); err != nil {
			return err
		}
	}
	b.SubActivities(subActivities)
	data, err := b.Build()
	if err != nil {
		return fmt.Errorf("apgas: build result-to-parent envelope: %w", err)
	}
	return deliver(activityID.FinishID().Place(), data)
}

// SendResultToWaiter builds and sends the full result envelope (spec
// §4.5: "The full result is sent to the waiter only when waited").
func SendResultToWaiter(activityID ActivityId, ret any, panicPayload string, didPanic bool, subActivities []ActivityId) error {
	b := NewTaskItemBuilder(0, activityID.SpawnedPlace, activityID)
	b.Waited()
	if didPanic {
		b.RetPanic(panicPayload)
	} else if err := b.Ret(ret); err != nil {
		return err
	}
	b.SubActivities(subActivities)
	data, err := b.Build()
	if err != nil {
		return fmt.Errorf("apgas: build result-to-waiter envelope: %w", err)
	}
	return deliver(activityID.SpawnedPlace, data)
}

// Shutdown requests an early, out-of-band teardown of the local
// process's genesis loop — the hook an os/signal handler calls on
// SIGINT/SIGTERM to unwind gracefully instead of killing connections
// out from under in-flight sends.
func Shutdown() {
	currentRuntime().cancel()
}

// deliver routes wire bytes either through the transport or, for a
// message addressed to here(), directly into the local dispatcher —
// avoiding a pointless network round trip for same-place completions.
func deliver(dst Place, data []byte) error {
	if dst == Here() {
		w, err := wire.Decode(data)
		if err != nil {
			return err
		}
		currentRuntime().dispatcher.Dispatch(w)
		return nil
	}
	return Send(dst, data)
}
