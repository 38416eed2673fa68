// Package hub fans events out to Server-Sent Events clients.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"beacon/internal/logger"

	"github.com/google/uuid"
)

// Client is one connected SSE stream. A nil filter receives every event.
type Client struct {
	id     string
	filter map[string]bool
	events chan []byte
}

func (c *Client) wants(name string) bool {
	return c.filter == nil || c.filter[name]
}

// message is a named event waiting to be framed
type message struct {
	name    string
	payload any
}

// Hub manages SSE client connections
type Hub struct {
	log        logger.Logger
	keepalive  time.Duration
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	seq        uint64
}

// New creates a Hub. Nothing is delivered until Run.
func New(log logger.Logger) *Hub {
	return &Hub{
		log:        log.WithComponent("hub"),
		keepalive:  30 * time.Second,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client stream.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("client", client.id).Int("clients", n).Msg("SSE client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("client", client.id).Int("clients", n).Msg("SSE client disconnected")

		case m := <-h.broadcast:
			data, err := json.Marshal(m.payload)
			if err != nil {
				h.log.Error().Err(err).Str("event", m.name).Msg("Failed to marshal event")
				continue
			}
			h.seq++
			msg := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", h.seq, m.name, data))

			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(m.name) {
					continue
				}
				select {
				case client.events <- msg:
				default:
					h.log.Warn().Str("client", client.id).Msg("SSE client is slow, skipping message")
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.events)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues a named event for every client subscribed to the name.
// A full queue drops it.
func (h *Hub) Broadcast(name string, payload any) {
	select {
	case h.broadcast <- message{name: name, payload: payload}:
	default:
		h.log.Warn().Str("event", name).Msg("Broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams events to one client. The optional types query
// parameter is a comma-separated list of event names to receive.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &Client{
		id:     uuid.NewString(),
		filter: parseFilter(r.URL.Query().Get("types")),
		events: make(chan []byte, 64),
	}

	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func parseFilter(raw string) map[string]bool {
	var filter map[string]bool
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if filter == nil {
			filter = make(map[string]bool)
		}
		filter[name] = true
	}
	return filter
}
