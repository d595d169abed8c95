package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSHub fans events out to websocket clients. Unlike the SSE hub it writes
// directly from the broadcasting goroutine, serialized per connection.
type WSHub struct {
	upgrader websocket.Upgrader
	clients  map[*wsClient]bool
	mu       sync.Mutex
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewWSHub creates a websocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
}

// Broadcast sends one event to every connected websocket client
func (h *WSHub) Broadcast(event SSEEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.send(data); err != nil {
			client.conn.Close()
			delete(h.clients, client)
		}
	}
}

func (h *WSHub) add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

func (h *WSHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.wsHub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api] websocket upgrade: %v", err)
			return
		}

		client := &wsClient{conn: conn}
		s.wsHub.add(client)
		defer func() {
			s.wsHub.remove(client)
			conn.Close()
		}()

		// Clients only listen; the read loop exists to detect disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[api] websocket closed: %v", err)
				}
				return
			}
		}
	}
}
