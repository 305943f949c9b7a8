package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openlsm/lightctl/engine"
)

// sendBufferSize is the per-client outbound message buffer size
const sendBufferSize = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans progress records out to websocket clients.  It is push only:
// clients connect, receive JSON progress records, and are dropped when they
// disconnect or fall behind.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Relay consumes progress records and broadcasts each to every connected
// client.  It returns when the channel is closed.
func (h *Hub) Relay(progress <-chan engine.Progress) {
	for pr := range progress {
		b, err := json.Marshal(pr)
		if err != nil {
			log.Println("httpapi: marshal progress:", err)
			continue
		}
		h.broadcast(b)
	}
}

func (h *Hub) broadcast(b []byte) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.trySend(b)
	}
}

// trySend delivers one record to the client's send channel.  It absorbs the
// send-on-closed-channel panic from a client dropped between the snapshot and
// the send, and skips clients whose buffer is full.
func (c *client) trySend(b []byte) {
	defer func() {
		recover()
	}()
	select {
	case c.send <- b:
	default:
		// slow client, drop the record rather than block the relay
	}
}

// Upgrade turns an HTTP request into a websocket progress subscription.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("httpapi: websocket upgrade:", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if existed {
		close(c.send)
	}
	c.conn.Close()
}

// readPump discards inbound messages; its job is to notice disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	for b := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}
