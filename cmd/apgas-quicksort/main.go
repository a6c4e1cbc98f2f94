// Command apgas-quicksort is the production launcher for the
// quicksort example (scenario S3): full flag surface, structured
// logging, and a SIGUSR1 diagnostic dump, following the same CLI
// idiom the teacher's cmd/ublk-mem/main.go uses for its device
// launcher.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jaxonwang/apgas-go"
	"github.com/jaxonwang/apgas-go/examples/quicksort"
	"github.com/jaxonwang/apgas-go/internal/logging"
)

func parseLevel(s string) (logging.LogLevel, error) {
	switch s {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func main() {
	var (
		here        = flag.Int("here", 0, "this process's place index")
		world       = flag.Int("world", 1, "total number of places in the cluster")
		addr        = flag.String("addr", "127.0.0.1:9100", "this place's transport listen address")
		coordinator = flag.String("coordinator", "127.0.0.1:9100", "place 0's transport address")
		n           = flag.Int("n", 1000, "length of the vector to sort (place 0 only)")
		seed        = flag.Int64("seed", 1, "seed for the random permutation sorted on place 0")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apgas-quicksort: %v\n", err)
		os.Exit(2)
	}
	logging.SetDefault(logging.NewLogger(&logging.Config{Level: level}))
	logger := logging.Default().WithPlace(*here)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	go func() {
		buf := make([]byte, 1<<20)
		for range dumpCh {
			n := runtime.Stack(buf, true)
			logger.Warnf("apgas-quicksort: stack dump on SIGUSR1:\n%s", buf[:n])
		}
	}()

	var sorted []int
	cfg := apgas.DefaultGenesisConfig(*here, *world, *addr, *coordinator)

	go func() {
		<-sigCh
		logger.Infof("apgas-quicksort: received shutdown signal")
		apgas.Shutdown()
	}()

	nums := quicksort.RandomVector(*n, *seed)
	mainFn := quicksort.MainScenario(nums, &sorted)

	if err := apgas.Genesis(cfg, mainFn, quicksort.WorkerEntry, quicksort.NoopHelpers); err != nil {
		logger.Errorf("apgas-quicksort: genesis: %v", err)
		os.Exit(1)
	}

	if *here == 0 {
		if len(sorted) != *n {
			logger.Errorf("apgas-quicksort: expected %d elements, got %d", *n, len(sorted))
			os.Exit(1)
		}
		if !quicksort.IsSorted(sorted) {
			logger.Errorf("apgas-quicksort: result vector is not sorted")
			os.Exit(1)
		}
		logger.Infof("apgas-quicksort: sorted %d elements, first=%d last=%d", len(sorted), sorted[0], sorted[len(sorted)-1])
	}
}
