// Package ring implements a same-host variant of the active-message
// transport (spec §4.2) for places co-located in one process — useful
// for tests and for benchmarking the coordination core without paying
// for a real network stack. It backs each place's segment with a real
// mmap'd region (golang.org/x/sys/unix), exactly as spec §4.2
// describes ("a contiguous segment of registered memory divided into W
// equal chunks"), and notifies receivers with a pipe doorbell instead
// of TCP framing.
//
// Grounded on the teacher's internal/uring package: a Config struct,
// raw mmap/syscall plumbing via golang.org/x/sys/unix, and optional
// CPU affinity pinning for the thread that waits on completions.
package ring

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/jaxonwang/apgas-go/internal/logging"
	apgastransport "github.com/jaxonwang/apgas-go/internal/transport"
)

// Config mirrors internal/transport.Config; duplicated rather than
// imported by value so this package has no hard dependency on the TCP
// implementation's internals, only on the shared Handler/Transport
// contract.
type Config struct {
	World int
	Here  int

	SegmentLen int
	MaxMedium  int
	MaxLong    int

	// CPUAffinity optionally pins the OS thread running Run (teacher's
	// queue runner does the same for its I/O thread). The per-place
	// receive-wait goroutines that Run starts are not pinned.
	CPUAffinity []int
}

func (c *Config) chunkSize() int { return c.SegmentLen / c.World }

// segment is one place's mmap'd receive region, split into W chunks
// (spec §4.2: "chunk i in peer p's segment is reserved for messages
// flowing here → p sourced from rank i").
type segment struct {
	mem []byte
}

func newSegment(size int) (*segment, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap segment: %w", err)
	}
	return &segment{mem: mem}, nil
}

func (s *segment) close() error { return unix.Munmap(s.mem) }

// doorbell wakes a receiver after a write lands in its chunk. A pipe
// rather than a condvar so the wait can later be swapped for an
// io_uring-polled read under a giouring build, mirroring the teacher's
// real/stub ring split.
type doorbell struct {
	r, w int
}

func newDoorbell() (*doorbell, error) {
	fds, err := unix.Pipe2(unix.O_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ring: create doorbell pipe: %w", err)
	}
	return &doorbell{r: fds[0], w: fds[1]}, nil
}

func (d *doorbell) ring() error {
	_, err := unix.Write(d.w, []byte{1})
	return err
}

func (d *doorbell) wait() error {
	return waitForByte(d.r)
}

func (d *doorbell) close() {
	unix.Close(d.r)
	unix.Close(d.w)
}

// place is one endpoint in the ring: its own receive segment plus a
// doorbell other places ring after writing into it.
type place struct {
	id  int
	seg *segment
	bell *doorbell
}

// Transport implements internal/transport.Transport for places
// co-located in a single process.
type Transport struct {
	cfg     Config
	logger  *logging.Logger
	handler apgastransport.Handler

	mu     sync.Mutex
	places map[int]*place

	writeOffset map[int]int // per-destination next free offset within our own write view of its chunk
}

// NewTransport constructs a same-host ring transport. All places that
// will participate must be registered with Join before Run.
func NewTransport(cfg Config) *Transport {
	return &Transport{
		cfg:         cfg,
		logger:      logging.Default(),
		places:      make(map[int]*place),
		writeOffset: make(map[int]int),
	}
}

// Join registers place id's receive segment and doorbell with the
// shared ring. Called once per place before Run; all places share one
// Transport value in the co-located model (unlike TCPTransport, which
// is one value per place).
func (t *Transport) Join(id int) error {
	seg, err := newSegment(t.cfg.SegmentLen)
	if err != nil {
		return err
	}
	bell, err := newDoorbell()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.places[id] = &place{id: id, seg: seg, bell: bell}
	t.mu.Unlock()
	return nil
}

func (t *Transport) RegisterHandler(h apgastransport.Handler) { t.handler = h }

// Ready closes immediately: every joined place's segment and doorbell
// are ready for Send the moment Join returns, since there is no
// handshake to wait for in the co-located model.
func (t *Transport) Ready() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Run starts one receive-wait goroutine per joined place and blocks
// until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	t.mu.Lock()
	places := make([]*place, 0, len(t.places))
	for _, p := range t.places {
		places = append(places, p)
	}
	t.mu.Unlock()

	for _, p := range places {
		p := p
		go t.recvLoop(ctx, p)
	}
	if len(t.cfg.CPUAffinity) > 0 {
		if err := pinCurrentThread(t.cfg.CPUAffinity); err != nil {
			t.logger.Warnf("ring: failed to set CPU affinity: %v", err)
		}
	}
	<-ctx.Done()
	return nil
}

func pinCurrentThread(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

// recvLoop waits on one place's doorbell and, on each ring, decodes
// the frame written at that place's chunk for cfg.Here (the source
// every Send stamps) and invokes the handler. The chunk layout is a
// 4-byte source place id, a 4-byte payload length, then the payload
// (spec §4.2's static per-(src,dst) chunk addressing).
func (t *Transport) recvLoop(ctx context.Context, p *place) {
	for {
		if err := p.bell.wait(); err != nil {
			if ctx.Err() == nil {
				t.logger.Errorf("ring: doorbell wait failed for place %d: %v", p.id, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		src, data := decodeChunk(t.chunkFor(p, t.cfg.Here))
		t.handler(src, data)
	}
}

// Send writes data directly into dst's chunk reserved for here() and
// rings its doorbell. Unlike the TCP transport there is no medium/long
// split: the mmap'd chunk already behaves like the "registered memory"
// spec §4.2 assumes, so every send is a single RDMA-style write.
func (t *Transport) Send(dst int, data []byte) error {
	t.mu.Lock()
	dstPlace, ok := t.places[dst]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ring: destination place %d not joined", dst)
	}

	chunk := t.chunkFor(dstPlace, t.cfg.Here)
	if len(data)+16 > len(chunk) {
		return &apgastransport.ErrOversized{Size: len(data), ChunkSize: len(chunk)}
	}
	encodeChunk(chunk, t.cfg.Here, data)
	return dstPlace.bell.ring()
}

// chunkFor returns the slice of dst's segment reserved for messages
// sourced from src (spec §4.2's static chunk addressing).
func (t *Transport) chunkFor(dst *place, src int) []byte {
	chunkSize := t.cfg.chunkSize()
	start := src * chunkSize
	return dst.seg.mem[start : start+chunkSize]
}

func encodeChunk(chunk []byte, src int, data []byte) {
	binary.BigEndian.PutUint32(chunk[0:4], uint32(src))
	binary.BigEndian.PutUint32(chunk[4:8], uint32(len(data)))
	copy(chunk[8:], data)
}

func decodeChunk(chunk []byte) (src int, data []byte) {
	src = int(binary.BigEndian.Uint32(chunk[0:4]))
	n := binary.BigEndian.Uint32(chunk[4:8])
	data = make([]byte, n)
	copy(data, chunk[8:8+n])
	return src, data
}

// Close releases every joined place's mmap'd segment and doorbell.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, p := range t.places {
		if err := p.seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.bell.close()
	}
	return firstErr
}
