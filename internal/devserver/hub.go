package devserver

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
	"github.com/wolfeidau/sitebundle/internal/telemetry"
	"golang.org/x/net/websocket"
)

const writeTimeout = 5 * time.Second

var _ buildconfig.Broadcaster = (*Hub)(nil)

// Hub is the registry of connected live reload clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*websocket.Conn
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*websocket.Conn),
		log:     log,
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it registered until
// the client disconnects. Origins are not checked, the server only listens on
// a development address.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Server{Handler: h.serve}.ServeHTTP(w, r)
}

func (h *Hub) serve(ws *websocket.Conn) {
	// clear the deadline inherited from the http server's read timeout
	_ = ws.SetReadDeadline(time.Time{})

	id := uuid.New()
	h.add(id, ws)
	defer h.remove(id)

	var msg string
	for {
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return
		}
	}
}

// Broadcast sends msg to every connected client, dropping clients that fail.
func (h *Hub) Broadcast(msg string) {
	h.mu.RLock()
	clients := maps.Clone(h.clients)
	h.mu.RUnlock()

	for id, ws := range clients {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.Message.Send(ws, msg); err != nil {
			h.log.Debug().Err(err).Str("client", id.String()).Msg("Dropping live reload client")
			h.remove(id)
		}
	}

	telemetry.GetMetrics().ReloadBroadcastsTotal.Add(context.Background(), 1)
	h.log.Debug().Str("message", msg).Int("clients", len(clients)).Msg("Broadcast to live reload clients")
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.remove(id)
	}
}

func (h *Hub) add(id uuid.UUID, ws *websocket.Conn) {
	h.mu.Lock()
	h.clients[id] = ws
	h.mu.Unlock()

	telemetry.GetMetrics().ActiveClients.Add(context.Background(), 1)
	h.log.Debug().Str("client", id.String()).Msg("Live reload client connected")
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	ws, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if !ok {
		return
	}

	_ = ws.Close()
	telemetry.GetMetrics().ActiveClients.Add(context.Background(), -1)
	h.log.Debug().Str("client", id.String()).Msg("Live reload client disconnected")
}
