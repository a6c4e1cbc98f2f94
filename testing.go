package apgas

import (
	"context"
	"sync"

	apgastransport "github.com/jaxonwang/apgas-go/internal/transport"
)

// MockTransport is an in-memory Transport for unit tests that exercise
// the coordination core without opening real sockets, the apgas
// analogue of the teacher's MockBackend. Every MockTransport sharing
// the same *MockNetwork behaves as one place in a simulated cluster.
type MockTransport struct {
	net     *MockNetwork
	place   int
	handler apgastransport.Handler
	inbox   chan mockMessage

	mu     sync.Mutex
	closed bool
}

type mockMessage struct {
	src  int
	data []byte
}

// MockNetwork is the shared medium a set of MockTransports send
// through; construct one per simulated cluster.
type MockNetwork struct {
	mu    sync.Mutex
	peers map[int]*MockTransport
}

// NewMockNetwork returns an empty simulated network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{peers: make(map[int]*MockTransport)}
}

// NewMockTransport registers place as a participant on net.
func NewMockTransport(net *MockNetwork, place int) *MockTransport {
	t := &MockTransport{net: net, place: place, inbox: make(chan mockMessage, 256)}
	net.mu.Lock()
	net.peers[place] = t
	net.mu.Unlock()
	return t
}

// Ready closes immediately: a simulated network has no handshake to
// wait for.
func (t *MockTransport) Ready() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *MockTransport) RegisterHandler(h apgastransport.Handler) { t.handler = h }

// Run delivers queued messages to the registered handler until ctx is
// cancelled.
func (t *MockTransport) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-t.inbox:
			t.handler(msg.src, msg.data)
		case <-ctx.Done():
			return nil
		}
	}
}

// Send enqueues a copy of data on dst's inbox. It returns a transport
// failure error if dst was never registered on the network, and blocks
// while dst's 256-message inbox is full.
func (t *MockTransport) Send(dst int, data []byte) error {
	t.net.mu.Lock()
	peer, ok := t.net.peers[dst]
	t.net.mu.Unlock()
	if !ok {
		return NewError("mock-send", ErrCodeTransportFailure, "destination place not registered")
	}
	peer.inbox <- mockMessage{src: t.place, data: append([]byte(nil), data...)}
	return nil
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

var _ apgastransport.Transport = (*MockTransport)(nil)
