package apgas

import (
	"context"
	"fmt"

	"github.com/jaxonwang/apgas-go/internal/bootstrap"
	"github.com/jaxonwang/apgas-go/internal/logging"
	"github.com/jaxonwang/apgas-go/internal/queue"
	apgastransport "github.com/jaxonwang/apgas-go/internal/transport"
	"github.com/jaxonwang/apgas-go/internal/wire"
)

// GenesisConfig carries the per-process bring-up parameters every place
// needs before it can join the cluster (spec §4.6 step 0). MyAddress is
// this place's own transport listen address ("host:port"); Coordinator
// is place 0's transport address, from which participants derive the
// rendezvous endpoint they dial (used only when Here != 0; place 0
// derives its own rendezvous address from MyAddress the same way — see
// bootstrap.CoordinatorListenAddr).
type GenesisConfig struct {
	Here        int
	World       int
	MyAddress   string
	Coordinator string

	SegmentLen int
	MaxMedium  int
	MaxLong    int
}

// DefaultGenesisConfig fills in the sizing knobs from the package
// defaults, leaving the cluster-identity fields for the caller to set.
func DefaultGenesisConfig(here, world int, myAddress, coordinatorAddr string) GenesisConfig {
	return GenesisConfig{
		Here:        here,
		World:       world,
		MyAddress:   myAddress,
		Coordinator: coordinatorAddr,
		SegmentLen:  DefaultSegmentLen,
		MaxMedium:   DefaultMaxMedium,
		MaxLong:     DefaultMaxLong,
	}
}

// Genesis brings the runtime up on this process and, on place 0 only,
// runs mainFn to completion before tearing everything down (spec §4.6:
// "genesis(main_fn) — entry point run once per process; only place 0's
// main_fn actually executes, every other place just answers requests
// until told to stop"). workerEntry executes one incoming activity
// request; it must itself arrange for SendResultToParent/
// SendResultToWaiter once the activity finishes or panics (see
// examples/basic for the hand-written per-function dispatch glue the
// macro layer would otherwise generate).
func Genesis(cfg GenesisConfig, mainFn func(ctx *ConcreteContext), workerEntry func(item *TaskItem), initHelpers func()) error {
	logger := logging.Default().WithPlace(cfg.Here)

	initHelpers()

	topo, err := bootstrap.Rendezvous(cfg.Here, cfg.World, cfg.MyAddress, bootstrap.CoordinatorListenAddr(cfg.Coordinator))
	if err != nil {
		return WrapError("genesis", ErrCodeTransportFailure, err)
	}
	setLocalTopology(Place(cfg.Here), topo.World)
	logger.Infof("genesis: rendezvous complete, world=%d", topo.World)

	metrics := GlobalMetrics()

	tcfg := apgastransport.Config{
		World:      topo.World,
		Here:       cfg.Here,
		Addresses:  topo.Addresses,
		SegmentLen: cfg.SegmentLen,
		MaxMedium:  cfg.MaxMedium,
		MaxLong:    cfg.MaxLong,

		OnFragmentedSend:   func() { metrics.FragmentedSends.Add(1) },
		OnFlowControlBlock: func() { metrics.FlowControlBlocks.Add(1) },
	}
	tr := apgastransport.NewTCPTransport(tcfg)

	coordinator := queue.NewCoordinator()
	waiters := queue.NewWaiters()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := queue.NewDispatcher(ctx, coordinator, waiters, func(w *wire.Item) {
		item, err := TaskItemFromWire(w)
		if err != nil {
			logger.Errorf("genesis: decode request envelope: %v", err)
			return
		}
		workerEntry(item)
	})

	setRuntime(&runtimeState{
		transport:   tr,
		coordinator: coordinator,
		waiters:     waiters,
		dispatcher:  dispatcher,
		metrics:     metrics,
		cancel:      cancel,
	})

	tr.RegisterHandler(func(src int, data []byte) {
		if isShutdownFrame(data) {
			logger.Infof("genesis: shutdown notice from place %d", src)
			cancel()
			return
		}
		w, err := wire.Decode(data)
		if err != nil {
			logger.Errorf("genesis: decode envelope from place %d: %v", src, err)
			return
		}
		metrics.MessagesReceived.Add(1)
		metrics.BytesReceived.Add(uint64(len(data)))
		dispatcher.Dispatch(w)
	})

	transportErr := make(chan error, 1)
	go func() {
		transportErr <- tr.Run(ctx)
	}()

	select {
	case <-tr.Ready():
	case <-ctx.Done():
		<-transportErr
		return ctx.Err()
	}
	logger.Infof("genesis: full mesh established")

	// Place 0 alone runs the user's entry point; every other place just
	// answers requests until genesis tears down (spec §4.6 step 4:
	// "every place other than 0 blocks in its receive loop forever").
	var mainErr error
	if cfg.Here == 0 {
		frame := NewFrame()
		func() {
			defer func() {
				if r := recover(); r != nil {
					mainErr = fmt.Errorf("apgas: main_fn panicked: %v", r)
				}
			}()
			mainFn(frame)
		}()
		if mainErr == nil {
			mainErr = WaitAll(frame)
		}
		logger.Infof("genesis: main_fn complete, notifying cluster")
		for p := 0; p < topo.World; p++ {
			if p == cfg.Here {
				continue
			}
			if err := tr.Send(p, shutdownFrame); err != nil {
				logger.Warnf("genesis: shutdown notice to place %d: %v", p, err)
			}
		}
		cancel()
	} else {
		<-ctx.Done()
	}

	if err := dispatcher.Wait(); err != nil {
		logger.Warnf("genesis: dispatcher teardown: %v", err)
	}
	if err := tr.Close(); err != nil {
		logger.Warnf("genesis: transport close: %v", err)
	}
	<-transportErr

	return mainErr
}

// shutdownFrame is a one-byte out-of-band signal place 0 broadcasts once
// main_fn has returned, distinct from any valid wire.Item encoding
// (which always begins with a 2-byte magic and a 1-byte version and is
// at least 28 bytes long) — recognized by its one-byte length so genesis never
// needs a reserved bit inside the TaskItem wire format itself.
var shutdownFrame = []byte{0x00}

func isShutdownFrame(data []byte) bool {
	return len(data) == 1 && data[0] == 0x00
}
