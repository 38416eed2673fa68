// Package transport carries framed datagrams between nodes. Every packet's
// first byte selects the service handler that receives the payload.
package transport

import (
	"errors"
	"sync"

	"beacon/internal/codec"
)

// BroadcastAddress is the limited broadcast address
const BroadcastAddress = "255.255.255.255"

var (
	// ErrSocketClosed is returned once the socket has been closed
	ErrSocketClosed = errors.New("socket closed")
	// ErrNotInitialized is returned before Init
	ErrNotInitialized = errors.New("transport not initialized")
)

// Packet is one received payload, service byte stripped
type Packet struct {
	Data    []byte
	Address string
	Port    int
}

// Handler receives packets for one service id
type Handler func(Packet)

// mux maps service bytes to handlers
type mux struct {
	mu       sync.RWMutex
	handlers map[byte]Handler
}

func newMux() *mux {
	return &mux{handlers: make(map[byte]Handler)}
}

func (m *mux) add(id byte, h Handler) {
	m.mu.Lock()
	m.handlers[id] = h
	m.mu.Unlock()
}

func (m *mux) remove(id byte) {
	m.mu.Lock()
	delete(m.handlers, id)
	m.mu.Unlock()
}

// dispatch unframes a datagram and calls its handler. It reports false for
// runt packets and unknown services.
func (m *mux) dispatch(datagram []byte, address string, port int) bool {
	id, payload, ok := codec.Unframe(datagram)
	if !ok {
		return false
	}
	m.mu.RLock()
	h, ok := m.handlers[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	h(Packet{Data: data, Address: address, Port: port})
	return true
}
