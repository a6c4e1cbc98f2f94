package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/jaxonwang/apgas-go/internal/logging"
)

const (
	frameShortReply = byte(0)
	frameMedium     = byte(1)
	frameLong       = byte(2)
)

// peerConn is one full-duplex connection shared by both directions of
// traffic between here() and a single peer place (spec §4.2 treats
// send/receive as logically separate channels over the same segment;
// a single TCP stream plays both roles here).
type peerConn struct {
	place int
	conn  net.Conn
	wmu   sync.Mutex // serializes writes; a single sender task per connection
}

func (p *peerConn) writeFrame(buf []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_, err := p.conn.Write(buf)
	return err
}

// flowState is the per-destination fragmented-send gate described in
// spec §4.2: at most one fragmented message may be outstanding to a
// given destination at a time.
type flowState struct {
	mu      sync.Mutex
	waiting bool
	tokens  chan struct{}
}

func newFlowState() *flowState {
	return &flowState{tokens: make(chan struct{}, 1)}
}

// TCPTransport is the default Transport implementation: each place
// dials or accepts exactly one connection per peer and multiplexes
// short/medium/long frames over it.
type TCPTransport struct {
	cfg     Config
	logger  *logging.Logger
	handler Handler

	mu    sync.Mutex
	peers map[int]*peerConn
	flow  map[int]*flowState

	reassembler *Reassembler
	listener    net.Listener

	readyWg sync.WaitGroup
	readyCh chan struct{}
}

// NewTCPTransport builds a transport from cfg. Run must be called
// before any Send.
func NewTCPTransport(cfg Config) *TCPTransport {
	t := &TCPTransport{
		cfg:         cfg,
		logger:      logging.Default(),
		peers:       make(map[int]*peerConn),
		flow:        make(map[int]*flowState),
		reassembler: NewReassembler(),
		readyCh:     make(chan struct{}),
	}
	for p := 0; p < cfg.World; p++ {
		if p != cfg.Here {
			t.flow[p] = newFlowState()
		}
	}
	return t
}

func (t *TCPTransport) RegisterHandler(h Handler) { t.handler = h }

// Run listens for inbound peer connections and dials every peer with a
// larger place index (the lower-indexed side of a pair dials, the
// higher-indexed side accepts, avoiding duplicate connections for the
// same pair). It blocks until ctx is cancelled.
func (t *TCPTransport) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Addresses[t.cfg.Here])
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", t.cfg.Addresses[t.cfg.Here], err)
	}
	t.listener = ln

	t.readyWg.Add(t.cfg.World - 1)

	go t.acceptLoop(ctx)

	for p := t.cfg.Here + 1; p < t.cfg.World; p++ {
		p := p
		go t.dialPeer(ctx, p)
	}

	go func() {
		t.readyWg.Wait()
		close(t.readyCh)
	}()

	<-ctx.Done()
	return ln.Close()
}

// Ready closes once every peer connection (both accepted and dialed)
// has completed its handshake.
func (t *TCPTransport) Ready() <-chan struct{} { return t.readyCh }

func (t *TCPTransport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.handshakeAccept(ctx, conn)
	}
}

func (t *TCPTransport) handshakeAccept(ctx context.Context, conn net.Conn) {
	var buf [2]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		t.logger.Warnf("transport: handshake read failed: %v", err)
		conn.Close()
		return
	}
	peer := int(binary.BigEndian.Uint16(buf[:]))
	t.registerPeer(peer, conn)
	t.readyWg.Done()
	t.readLoop(ctx, peer, conn)
}

func (t *TCPTransport) dialPeer(ctx context.Context, peer int) {
	conn, err := net.Dial("tcp", t.cfg.Addresses[peer])
	if err != nil {
		t.logger.Errorf("transport: dial place %d at %s: %v", peer, t.cfg.Addresses[peer], err)
		return
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(t.cfg.Here))
	if _, err := conn.Write(buf[:]); err != nil {
		t.logger.Errorf("transport: handshake write to place %d: %v", peer, err)
		return
	}
	t.registerPeer(peer, conn)
	t.readyWg.Done()
	t.readLoop(ctx, peer, conn)
}

func (t *TCPTransport) registerPeer(peer int, conn net.Conn) {
	t.mu.Lock()
	t.peers[peer] = &peerConn{place: peer, conn: conn}
	t.mu.Unlock()
}

func (t *TCPTransport) peerConn(peer int) *peerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[peer]
}

func (t *TCPTransport) readLoop(ctx context.Context, peer int, conn net.Conn) {
	r := conn
	for {
		var kindBuf [1]byte
		if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
			if ctx.Err() == nil {
				t.logger.Warnf("transport: connection to place %d closed: %v", peer, err)
			}
			return
		}
		switch kindBuf[0] {
		case frameShortReply:
			t.onReply(peer)
		case frameMedium:
			data, err := readLengthPrefixed(r)
			if err != nil {
				t.logger.Errorf("transport: medium frame from place %d: %v", peer, err)
				return
			}
			t.handler(peer, data)
		case frameLong:
			totalLen, offset, data, err := readLongFrame(r)
			if err != nil {
				t.logger.Errorf("transport: long frame from place %d: %v", peer, err)
				return
			}
			if complete, done := t.reassembler.Feed(peer, totalLen, offset, data); done {
				t.handler(peer, complete)
				t.sendReply(peer)
			}
		default:
			t.logger.Errorf("transport: unknown frame type %d from place %d", kindBuf[0], peer)
			return
		}
	}
}

func (t *TCPTransport) onReply(peer int) {
	fs := t.flow[peer]
	fs.mu.Lock()
	fs.waiting = false
	fs.mu.Unlock()
	select {
	case fs.tokens <- struct{}{}:
	default:
	}
}

func (t *TCPTransport) sendReply(peer int) error {
	pc := t.peerConn(peer)
	if pc == nil {
		return fmt.Errorf("transport: no connection to place %d", peer)
	}
	return pc.writeFrame([]byte{frameShortReply})
}

// Send implements spec §4.2's send policy: medium for small payloads,
// fragmented long sends (gated by per-destination flow control) for
// anything at or above MaxMedium but below one chunk.
func (t *TCPTransport) Send(dst int, data []byte) error {
	if len(data) < t.cfg.MaxMedium {
		return t.sendMedium(dst, data)
	}
	if len(data) >= t.cfg.ChunkSize() {
		return &ErrOversized{Size: len(data), ChunkSize: t.cfg.ChunkSize()}
	}
	return t.sendLong(dst, data)
}

func (t *TCPTransport) sendMedium(dst int, data []byte) error {
	pc := t.peerConn(dst)
	if pc == nil {
		return fmt.Errorf("transport: no connection to place %d", dst)
	}
	buf := make([]byte, 1+4+len(data))
	buf[0] = frameMedium
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(data)))
	copy(buf[5:], data)
	return pc.writeFrame(buf)
}

func (t *TCPTransport) sendLong(dst int, data []byte) error {
	if t.cfg.OnFragmentedSend != nil {
		t.cfg.OnFragmentedSend()
	}
	fs := t.flow[dst]
	fs.mu.Lock()
	waiting := fs.waiting
	fs.mu.Unlock()
	if waiting {
		if t.cfg.OnFlowControlBlock != nil {
			t.cfg.OnFlowControlBlock()
		}
		<-fs.tokens
	}
	fs.mu.Lock()
	fs.waiting = true
	fs.mu.Unlock()

	pc := t.peerConn(dst)
	if pc == nil {
		return fmt.Errorf("transport: no connection to place %d", dst)
	}

	total := len(data)
	for offset := 0; offset < total; offset += t.cfg.MaxLong {
		end := offset + t.cfg.MaxLong
		if end > total {
			end = total
		}
		frag := data[offset:end]
		buf := make([]byte, 1+8+8+4+len(frag))
		buf[0] = frameLong
		binary.BigEndian.PutUint64(buf[1:9], uint64(total))
		binary.BigEndian.PutUint64(buf[9:17], uint64(offset))
		binary.BigEndian.PutUint32(buf[17:21], uint32(len(frag)))
		copy(buf[21:], frag)
		if err := pc.writeFrame(buf); err != nil {
			return err
		}
	}
	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pc := range t.peers {
		pc.conn.Close()
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readLongFrame(r io.Reader) (totalLen, offset int, data []byte, err error) {
	var hdr [20]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	totalLen = int(binary.BigEndian.Uint64(hdr[0:8]))
	offset = int(binary.BigEndian.Uint64(hdr[8:16]))
	n := binary.BigEndian.Uint32(hdr[16:20])
	data = make([]byte, n)
	if _, err = io.ReadFull(r, data); err != nil {
		return 0, 0, nil, err
	}
	return totalLen, offset, data, nil
}
