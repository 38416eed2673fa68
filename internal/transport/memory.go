package transport

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
)

const memoryQueueSize = 256

// MemoryNetwork is an in-process datagram network. Endpoints attached to it
// exchange packets without sockets; broadcasts reach every other endpoint on
// the destination port. Delivery is asynchronous and drops when a queue is full.
type MemoryNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryEndpoint
}

// NewMemoryNetwork creates an empty network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[string]*MemoryEndpoint)}
}

// Endpoint creates an endpoint with the given address. It receives nothing
// until Init is called.
func (n *MemoryNetwork) Endpoint(address string, port int) *MemoryEndpoint {
	return &MemoryEndpoint{
		network: n,
		address: address,
		port:    port,
		mux:     newMux(),
	}
}

func (n *MemoryNetwork) attach(e *MemoryEndpoint) {
	n.mu.Lock()
	n.endpoints[e.key()] = e
	n.mu.Unlock()
}

func (n *MemoryNetwork) detach(e *MemoryEndpoint) {
	n.mu.Lock()
	if n.endpoints[e.key()] == e {
		delete(n.endpoints, e.key())
	}
	n.mu.Unlock()
}

func (n *MemoryNetwork) route(from *MemoryEndpoint, data []byte, address string, port int) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if isBroadcast(address) {
		for _, e := range n.endpoints {
			if e != from && e.port == port {
				e.enqueue(data, from.address, from.port)
			}
		}
		return
	}
	if e, ok := n.endpoints[endpointKey(address, port)]; ok {
		e.enqueue(data, from.address, from.port)
	}
}

func isBroadcast(address string) bool {
	return address == BroadcastAddress || strings.HasSuffix(address, ".255")
}

func endpointKey(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

type datagram struct {
	data    []byte
	address string
	port    int
}

// MemoryEndpoint is one node's attachment to a MemoryNetwork
type MemoryEndpoint struct {
	network *MemoryNetwork
	address string
	port    int
	mux     *mux

	mu     sync.Mutex
	inbox  chan datagram
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func (e *MemoryEndpoint) key() string {
	return endpointKey(e.address, e.port)
}

// Address returns the endpoint's address
func (e *MemoryEndpoint) Address() string {
	return e.address
}

// Init attaches the endpoint and starts delivery
func (e *MemoryEndpoint) Init(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inbox != nil {
		return nil
	}
	e.inbox = make(chan datagram, memoryQueueSize)
	e.done = make(chan struct{})
	e.closed = false
	e.wg.Add(1)
	go e.deliver(e.inbox, e.done)
	e.network.attach(e)
	return nil
}

func (e *MemoryEndpoint) deliver(inbox <-chan datagram, done <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-done:
			return
		case d := <-inbox:
			e.mux.dispatch(d.data, d.address, d.port)
		}
	}
}

func (e *MemoryEndpoint) enqueue(data []byte, address string, port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inbox == nil {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case e.inbox <- datagram{data: buf, address: address, port: port}:
	default:
	}
}

// Send routes one datagram. Unknown unicast destinations are silently lost.
func (e *MemoryEndpoint) Send(ctx context.Context, data []byte, address string, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	initialized, closed := e.inbox != nil, e.closed
	e.mu.Unlock()
	if closed {
		return ErrSocketClosed
	}
	if !initialized {
		return ErrNotInitialized
	}
	e.network.route(e, data, address, port)
	return nil
}

// AddService registers the handler for a service byte
func (e *MemoryEndpoint) AddService(id byte, h Handler) {
	e.mux.add(id, h)
}

// RemoveService unregisters a service byte
func (e *MemoryEndpoint) RemoveService(id byte) {
	e.mux.remove(id)
}

// IsInitialized reports whether the endpoint is attached
func (e *MemoryEndpoint) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inbox != nil
}

// Close detaches the endpoint and stops delivery. Later sends fail with
// ErrSocketClosed.
func (e *MemoryEndpoint) Close() error {
	e.network.detach(e)

	e.mu.Lock()
	if e.inbox == nil {
		e.closed = true
		e.mu.Unlock()
		return nil
	}
	close(e.done)
	e.inbox = nil
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}
