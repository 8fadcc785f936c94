package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
)

const maxMessageSize = 512

// Client represents a single WebSocket connection subscribed to a fixed set
// of topics, decided at upgrade time from the capability token.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	topics []string

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, topics []string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.sendBufSize),
		userID: userID,
		topics: topics,
		done:   make(chan struct{}),
	}
}

// Start launches the pump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump only services the keepalive: events flow server to client, state
// changes go through the HTTP API. Anything the client sends besides
// control frames is discarded.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}
	}
}

// writePump writes queued events to the connection and keeps it alive with
// pings. Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
