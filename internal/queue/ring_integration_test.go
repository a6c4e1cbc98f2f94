package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaxonwang/apgas-go/internal/queue"
	"github.com/jaxonwang/apgas-go/internal/transport/ring"
	"github.com/jaxonwang/apgas-go/internal/wire"
)

// TestTwoPlaceRoundTripOverRingTransport runs the same request/result
// round trip as the in-package TestTwoPlaceRequestResultRoundTrip, but
// routes every hop through a real ring.Transport (mmap'd segment +
// doorbell) instead of handing *wire.Item values straight to the
// destination Dispatcher. ring's own package only exercises raw byte
// delivery between two joined places; this drives a full
// Coordinator/Waiters/Dispatcher round trip across it, the external
// test package side-stepping the import cycle a same-package test
// would hit (transport already imports queue for buffer pooling).
func TestTwoPlaceRoundTripOverRingTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := ring.NewTransport(ring.Config{
		World:      2,
		Here:       0,
		SegmentLen: 2 << 20,
		MaxMedium:  1 << 10,
		MaxLong:    4 << 10,
	})
	require.NoError(t, tr.Join(0))
	require.NoError(t, tr.Join(1))
	defer tr.Close()

	var coords [2]*queue.Coordinator
	var waiters [2]*queue.Waiters
	var dispatchers [2]*queue.Dispatcher

	route := func(dst uint16, item *wire.Item) {
		require.NoError(t, tr.Send(int(dst), wire.Encode(item)))
	}

	onRequestPlace1 := func(item *wire.Item) {
		n := int(item.Args[0][0])
		doubled := byte(n * 2)
		route(0, &wire.Item{ActivityID: item.ActivityID, HasReturn: true, ReturnStripped: true})
		route(0, &wire.Item{ActivityID: item.ActivityID, HasReturn: true, ReturnData: []byte{doubled}})
	}

	for p := 0; p < 2; p++ {
		coords[p] = queue.NewCoordinator()
		waiters[p] = queue.NewWaiters()
	}
	dispatchers[0] = queue.NewDispatcher(ctx, coords[0], waiters[0], nil)
	dispatchers[1] = queue.NewDispatcher(ctx, coords[1], waiters[1], onRequestPlace1)

	tr.RegisterHandler(func(src int, data []byte) {
		w, err := wire.Decode(data)
		require.NoError(t, err)
		// Requests go to the executing place; result envelopes go back
		// to the spawning place, which here is also the finish owner.
		dst := int(w.ActivityID.DstPlace)
		if w.HasReturn {
			dst = int(w.ActivityID.SpawnedPlace)
		}
		dispatchers[dst].Dispatch(w)
	})

	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	const finishID uint64 = 1
	activityID := wire.ActivityID{FinishID: finishID, SpawnedPlace: 0, DstPlace: 1, Counter: 1}

	coords[0].Open(finishID)
	coords[0].OnLocalSpawn(finishID)
	waitCh := waiters[0].Register(activityID)

	route(1, &wire.Item{FnID: 0, ActivityID: activityID, Args: [][]byte{{21}}})

	select {
	case result := <-waitCh:
		assert.Equal(t, []byte{42}, result.ReturnData)
	case <-time.After(2 * time.Second):
		t.Fatal("result-to-waiter never arrived over ring transport")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, coords[0].WaitAll(waitCtx, finishID))
}
