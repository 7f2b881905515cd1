// Package gateway streams alerts to WebSocket clients. New clients can ask for
// the alerts they missed via ?since_seq=N and narrow the stream with ?symbol=.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"pivotwatch/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is the frame sent to clients for every alert.
type Envelope struct {
	Type   string      `json:"type"` // "alert"
	Seq    int64       `json:"seq"`
	Replay bool        `json:"replay,omitempty"`
	Alert  model.Alert `json:"alert"`
}

// Hub fans alerts out to connected clients and keeps a replay ring of recent
// envelopes. It implements model.Notifier and http.Handler.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer

	// OnClientCount, if set, is called with the client count after each change.
	OnClientCount func(n int)
}

// NewHub creates a hub remembering the last replaySize alerts.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
	}
}

func (h *Hub) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	h.mu.Lock()
	h.seq++
	env := Envelope{Type: "alert", Seq: h.seq, Alert: alert}
	data, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		return false, fmt.Sprintf("WS Error: %v", err)
	}
	h.replay.Push(env.Seq, alert.Symbol, data)

	sent, dropped := 0, 0
	for c := range h.clients {
		if !c.wants(alert.Symbol) {
			continue
		}
		select {
		case c.send <- data:
			sent++
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		log.Printf("[gateway] alert %s dropped for %d slow clients", alert.ID, dropped)
	}
	return true, fmt.Sprintf("WS OK: %d clients", sent)
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}

	var since int64 = -1
	if v := r.URL.Query().Get("since_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}
	var symbols map[string]bool
	if v := r.URL.Query().Get("symbol"); v != "" {
		symbols = make(map[string]bool)
		for _, s := range strings.Split(v, ",") {
			symbols[strings.TrimSpace(s)] = true
		}
	}

	c := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		symbols: symbols,
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	if since >= 0 {
		for _, e := range h.replay.Since(since) {
			if !c.wants(e.Symbol) {
				continue
			}
			select {
			case c.send <- markReplay(e.Data):
			default:
			}
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go c.writePump()
	go c.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the newest alert.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func markReplay(data []byte) []byte {
	var env Envelope
	if json.Unmarshal(data, &env) != nil {
		return data
	}
	env.Replay = true
	out, err := json.Marshal(env)
	if err != nil {
		return data
	}
	return out
}
