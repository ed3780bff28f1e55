package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"curator/internal/logging"
)

// Hub broadcasts events to connected websocket clients. Slow clients drop
// messages instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]bool
	logger  *slog.Logger
}

type hubClient struct {
	send chan []byte
}

// wireMessage is the JSON envelope sent to clients.
type wireMessage struct {
	Event   Event   `json:"event"`
	Payload Payload `json:"payload,omitempty"`
}

var _ Publisher = (*Hub)(nil)

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*hubClient]bool),
		logger:  logging.NewComponentLogger(logger, "ws-hub"),
	}
}

// Publish implements Publisher by broadcasting to every client.
func (h *Hub) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, err := json.Marshal(wireMessage{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Slow consumer; the event is dropped for this client only.
		}
	}
	return nil
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) removeClient(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", logging.Error(err))
		return
	}

	client := &hubClient{send: make(chan []byte, 64)}
	h.addClient(client)
	h.logger.Debug("websocket client connected")

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop keeps the connection alive and notices disconnects.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	h.removeClient(client)
	h.logger.Debug("websocket client disconnected")
}
