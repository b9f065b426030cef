package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stablemint/reservegate/internal/gate"
	"github.com/stablemint/reservegate/internal/guard"
)

// StreamEvent is one message on the websocket decision stream.
type StreamEvent struct {
	Type      string      `json:"type"` // "decision" or "gate_change"
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type gateChangePayload struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Caller string    `json:"caller"`
	Old    string    `json:"old,omitempty"`
	New    string    `json:"new,omitempty"`
}

// Hub fans issuance decisions and gate changes out to websocket clients. It
// plugs into the guard as a sink and into the gate as a notifier; slow
// clients lose events rather than stall the publisher.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*streamClient]struct{}
	metrics  *Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

type streamClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewHub creates the stream hub. Metrics may be nil.
func NewHub(metrics *Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		metrics: metrics,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and streams events until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	h.register(client)
	defer h.unregister(client)

	// The read loop only detects the client going away.
	go func() {
		defer client.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-client.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// RecordDecision implements the guard's decision sink.
func (h *Hub) RecordDecision(ctx context.Context, rec guard.Record) error {
	h.broadcast(StreamEvent{
		Type:      "decision",
		Timestamp: time.Now().UTC(),
		Payload:   issueResponseFrom(rec),
	})
	return nil
}

// GateChanged implements the gate's change notifier.
func (h *Hub) GateChanged(ctx context.Context, change gate.Change) error {
	h.broadcast(StreamEvent{
		Type:      "gate_change",
		Timestamp: time.Now().UTC(),
		Payload: gateChangePayload{
			ID:     change.ID,
			At:     change.At,
			Kind:   change.Kind,
			Caller: change.Caller,
			Old:    change.Old,
			New:    change.New,
		},
	})
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close()
		client.conn.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StreamConnected()
	}
}

func (h *Hub) unregister(client *streamClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	client.close()
	client.conn.Close()
	if present && h.metrics != nil {
		h.metrics.StreamDisconnected()
	}
}

func (h *Hub) broadcast(event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", event.Type).Msg("stream event marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		case <-client.done:
		default:
			// Slow client, drop the event instead of blocking the publisher.
		}
	}
}
