package utils

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHub fans events out to every connected control panel. Each
// connection carries its own write lock: gorilla allows one writer at a
// time and broadcasts arrive from several goroutines.
type WebSocketHub struct {
	clients      map[*websocket.Conn]*sync.Mutex
	mu           sync.Mutex
	writeTimeout time.Duration
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		writeTimeout: time.Second,
	}
}

func (h *WebSocketHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &sync.Mutex{}
	log.Printf("WS_HUB: Client connected from %s (%d total)", conn.RemoteAddr(), len(h.clients))
}

func (h *WebSocketHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		log.Printf("WS_HUB: Client disconnected (%d left)", len(h.clients))
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes event to every client concurrently. Clients that fail
// the write are dropped.
func (h *WebSocketHub) Broadcast(event WebSocketEvent) {
	h.mu.Lock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, writeMu := range h.clients {
		clients[conn] = writeMu
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failed []*websocket.Conn
	var failedMu sync.Mutex

	for conn, writeMu := range clients {
		wg.Add(1)
		go func(c *websocket.Conn, writeMu *sync.Mutex) {
			defer wg.Done()
			writeMu.Lock()
			c.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			err := c.WriteJSON(event)
			writeMu.Unlock()
			if err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn, writeMu)
	}
	wg.Wait()

	for _, conn := range failed {
		h.RemoveClient(conn)
	}
}

// CloseAll disconnects every client, used on shutdown.
func (h *WebSocketHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.writeTimeout))
		conn.Close()
		delete(h.clients, conn)
	}
}
