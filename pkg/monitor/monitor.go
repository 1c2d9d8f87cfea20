// Package monitor implements an optional websocket telemetry broadcast
// for a running simulation: scheduler cadence, tape depth, and timer
// counts, for operational visibility only. It is not part of either
// wire protocol under test.
//
// The hub shape (a registered Client with a buffered send channel, a
// writePump goroutine per client, a broadcastJSON fan-out that drops
// rather than blocks) is server.go's websocket hub, kept close to
// verbatim because the use case here is identical: broadcast a JSON
// blob to zero or more subscribers without backpressure.
package monitor

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Client is one subscriber's websocket connection and outbound queue.
type Client struct {
	conn *websocket.Conn
	send chan interface{}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Hub broadcasts telemetry snapshots to any number of connected
// clients. The zero value is not usable; construct with NewHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// Handler upgrades incoming HTTP requests to websocket subscribers.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: upgrade: %v", err)
		return
	}

	client := &Client{conn: conn, send: make(chan interface{}, 32)}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		close(client.send)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast fans a telemetry snapshot out to every connected client,
// dropping it for any client whose send queue is full rather than
// blocking the caller.
func (h *Hub) Broadcast(msg interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// NodeSnapshot is one node's telemetry row in a broadcast.
type NodeSnapshot struct {
	Index      int     `json:"index"`
	Seqno      uint64  `json:"seqno"`
	TapeDepths []int   `json:"tape_depths"`
	IGain      float64 `json:"igain"`
	OGain      float64 `json:"ogain"`
	Mute       bool    `json:"mute"`
}

// Snapshot is the top-level telemetry object broadcast on each tick.
type Snapshot struct {
	SimulatedSample int64          `json:"simulated_sample"`
	TimerCount      int            `json:"timer_count"`
	Nodes           []NodeSnapshot `json:"nodes"`
}
