package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // bridge is deployed on a trusted robot LAN
	},
}

// wsHub fans state snapshots out to connected websocket clients. Slow or
// broken clients are dropped rather than allowed to stall the broadcast.
type wsHub struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[string]*websocket.Conn)}
}

// Handle upgrades the request and registers the connection until the peer
// goes away.
func (h *wsHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	log.Printf("websocket client %s connected from %s", id, r.RemoteAddr)

	// Drain control frames; the bridge is publish-only.
	go func() {
		defer h.drop(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends v as JSON to every connected client.
func (h *wsHub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("websocket client %s dropped: %v", id, err)
			conn.Close()
			delete(h.conns, id)
		}
	}
}

// CloseAll disconnects every client, for shutdown.
func (h *wsHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
}

func (h *wsHub) drop(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[id]; ok {
		conn.Close()
		delete(h.conns, id)
	}
}
