package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jaxonwang/apgas-go/internal/wire"
)

func TestCoordinatorWaitAllHundredLocalSpawns(t *testing.T) {
	c := NewCoordinator()
	c.Open(1)

	for i := 0; i < 100; i++ {
		c.OnLocalSpawn(1)
	}
	for i := 0; i < 100; i++ {
		c.OnResult(1, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitAll(ctx, 1); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
}

func TestCoordinatorSubActivitiesKeepScopeOpen(t *testing.T) {
	c := NewCoordinator()
	c.Open(1)

	c.OnLocalSpawn(1) // activity A spawned

	ready := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.WaitAll(ctx, 1); err != nil {
			t.Errorf("WaitAll: %v", err)
		}
		close(ready)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-ready:
		t.Fatalf("WaitAll returned before outstanding activity completed")
	default:
	}

	// A completes having spawned 2 sub-activities of its own: outstanding
	// goes from 1 to 1 + 2 - 1 = 2, not to zero.
	c.OnResult(1, 2)

	select {
	case <-ready:
		t.Fatalf("WaitAll returned while 2 sub-activities are still outstanding")
	default:
	}

	c.OnResult(1, 0)
	c.OnResult(1, 0)
	<-ready
}

func TestDispatcherRoutesRequestResultToParentAndWaiter(t *testing.T) {
	coordinator := NewCoordinator()
	coordinator.Open(1)
	coordinator.OnLocalSpawn(1)
	waiters := NewWaiters()

	activityID := wire.ActivityID{FinishID: 1, SpawnedPlace: 0, DstPlace: 1, Counter: 1}
	waitCh := waiters.Register(activityID)

	requests := make(chan *wire.Item, 1)
	d := NewDispatcher(context.Background(), coordinator, waiters, func(item *wire.Item) {
		requests <- item
	})

	// A request envelope is handed to OnRequest off the calling goroutine.
	d.Dispatch(&wire.Item{FnID: 7, ActivityID: activityID})
	select {
	case item := <-requests:
		if item.FnID != 7 {
			t.Fatalf("request FnID = %d, want 7", item.FnID)
		}
	case <-time.After(time.Second):
		t.Fatal("request never dispatched")
	}

	// The stripped result-to-parent envelope updates the coordinator.
	d.Dispatch(&wire.Item{
		ActivityID:     activityID,
		HasReturn:      true,
		ReturnStripped: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := coordinator.WaitAll(ctx, 1); err != nil {
		t.Fatalf("WaitAll after result-to-parent: %v", err)
	}

	// The full result-to-waiter envelope wakes the registered waiter.
	d.Dispatch(&wire.Item{
		ActivityID: activityID,
		HasReturn:  true,
		ReturnData: []byte("payload"),
	})

	select {
	case item := <-waitCh:
		if string(item.ReturnData) != "payload" {
			t.Fatalf("waiter got %q, want %q", item.ReturnData, "payload")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never satisfied")
	}
}

func TestCoordinatorOnResultNegativeOutstandingPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative outstanding")
		}
	}()
	c := NewCoordinator()
	c.Open(1)
	c.OnResult(1, 0) // no prior spawn: outstanding would go to -1
}
