// Package gateway bridges websocket connections to the realtime layer.
// Each connection carries its own session gate and, when approved, its own
// workspace; the hub only tracks connections and fans shared notices out.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/larder-hq/larder/internal/realtime"
	"github.com/larder-hq/larder/jobs"
)

// Message types pushed over the websocket.
const (
	MessageTypeState  = "state"
	MessageTypeNotice = "notice"
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
)

// Message is the websocket envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Subscriber opens change subscriptions; satisfied by *realtime.Feed.
type Subscriber interface {
	Subscribe(ctx context.Context, table string) (realtime.Subscription, error)
}

// Hub tracks the set of connected clients.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: map[*Client]struct{}{},
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", slog.Int("total_clients", total))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client disconnected", slog.Int("total_clients", total))
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast enqueues a message to every connected client. Clients with a
// full send buffer are skipped rather than blocked on.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// RunNotices subscribes to the notices table and broadcasts every event
// until the context ends. Blocks; run in its own goroutine.
func (h *Hub) RunNotices(ctx context.Context, feed Subscriber) error {
	sub, err := feed.Subscribe(ctx, jobs.NoticesTable)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			h.Broadcast(Message{Type: MessageTypeNotice, Data: event.Payload()})
		}
	}
}
