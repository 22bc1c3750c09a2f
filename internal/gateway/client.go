package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/larder-hq/larder/internal/gate"
	"github.com/larder-hq/larder/internal/workspace"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Client owns one websocket connection together with its session gate.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	gate   *gate.Gate
	logger *slog.Logger

	send   chan Message
	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		logger: logger,
		send:   make(chan Message, 64),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// start launches the pumps. The gate must be attached first.
func (c *Client) start() {
	c.hub.add(c)
	go c.writePump()
	go c.statePump()
	go c.readPump()
}

// requestState schedules a state push. Signals are coalesced: a burst of
// mirror patches yields one snapshot, built at send time.
func (c *Client) requestState() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) enqueue(msg Message) {
	select {
	case c.send <- msg:
	default:
		// Slow consumer; drop rather than block the hub. The next state
		// push carries the full snapshot anyway.
	}
}

// stateMessage assembles the full push for the connection's current gate
// decision.
func (c *Client) stateMessage() Message {
	state := c.gate.State()
	payload := struct {
		Gate      gate.State          `json:"gate"`
		Dashboard *workspace.Snapshot `json:"dashboard,omitempty"`
	}{Gate: state}

	if ws, ok := c.gate.Workspace().(*workspace.Workspace); ok && ws != nil {
		snap := ws.Snapshot()
		payload.Dashboard = &snap
	}
	return Message{Type: MessageTypeState, Data: payload}
}

func (c *Client) statePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.notify:
			c.enqueue(c.stateMessage())
		}
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read", slog.Any("error", err))
			}
			return
		}
		switch msg.Type {
		case MessageTypePing:
			c.enqueue(Message{Type: MessageTypePong})
		case "signout":
			if err := c.gate.SignOut(c.ctx); err != nil {
				c.logger.Warn("websocket signout", slog.Any("error", err))
			}
		case "refresh":
			c.requestState()
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the connection down exactly once: gate (and with it the
// workspace and presence membership) first, then the hub registration.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.gate.Close(ctx)
		c.cancel()
		c.hub.remove(c)
		_ = c.conn.Close()
	})
}
