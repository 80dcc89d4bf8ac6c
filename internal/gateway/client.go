package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kaiwahq/kaiwa/internal/bus"
	"github.com/kaiwahq/kaiwa/pkg/protocol"
)

const (
	// sendBuffer is the per-connection outbound queue. A viewer that
	// cannot drain it loses events rather than stalling the broadcast.
	sendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Client is one connected WebSocket viewer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	filters *protocol.ClientFilters

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the client's registry id.
func (c *Client) ID() string { return c.id }

// Filters returns the current event filters, nil when none were set.
func (c *Client) Filters() *protocol.ClientFilters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filters
}

// SendEvent queues one event for delivery. File-change events are
// dropped when the client's filters exclude their project; everything
// else is always delivered. A full queue drops the event.
func (c *Client) SendEvent(event bus.Event) {
	if event.Name == protocol.EventFileChange && !c.Filters().Matches(event.Project) {
		return
	}
	data, err := json.Marshal(event.Payload)
	if err != nil {
		slog.Warn("ws: marshal event failed", "event", event.Name, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		slog.Warn("ws: client send queue full, dropping event", "id", c.id, "event", event.Name)
	}
}

// Run services the connection until it closes: a write pump on its own
// goroutine, the read loop here. The only message a viewer may send is
// update_filters.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		var msg protocol.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read failed", "id", c.id, "error", err)
			}
			return
		}
		switch msg.Type {
		case protocol.MessageUpdateFilters:
			c.mu.Lock()
			c.filters = msg.Filters
			c.mu.Unlock()
			slog.Debug("ws: filters updated", "id", c.id)
		default:
			slog.Debug("ws: ignoring unknown client message", "id", c.id, "type", msg.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
