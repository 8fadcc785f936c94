// Package ws fans events out to connected clients. Each connection
// subscribes to a set of topics fixed at upgrade time; the hub indexes
// clients by topic and forwards the pre-encoded envelopes it receives from
// the event hub bridge. Slow clients are disconnected rather than allowed
// to stall the fan-out; they recover by reconnecting and refetching.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
)

// Options tunes the hub and its per-client connection handling. Zero values
// fall back to the defaults.
type Options struct {
	MaxConns       int
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
}

type Hub struct {
	mu        sync.RWMutex
	byTopic   map[string]map[*Client]struct{}
	userConns map[string]int
	total     int
	maxConns  int

	sendBufSize int
	writeWait   time.Duration
	pongWait    time.Duration
	pingPeriod  time.Duration

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(opts Options) *Hub {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10000
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	return &Hub{
		byTopic:     make(map[string]map[*Client]struct{}),
		userConns:   make(map[string]int),
		maxConns:    opts.MaxConns,
		sendBufSize: opts.SendBufferSize,
		writeWait:   opts.WriteTimeout,
		pongWait:    opts.PongTimeout,
		pingPeriod:  (opts.PongTimeout * 9) / 10,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	seen := make(map[*Client]struct{}, h.total)
	for _, clients := range h.byTopic {
		for c := range clients {
			seen[c] = struct{}{}
		}
	}
	h.byTopic = make(map[string]map[*Client]struct{})
	h.userConns = make(map[string]int)
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for c := range seen {
		c.Close()
	}
	for c := range seen {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	for _, topic := range c.topics {
		if _, ok := h.byTopic[topic]; !ok {
			h.byTopic[topic] = make(map[*Client]struct{})
		}
		h.byTopic[topic][c] = struct{}{}
	}
	h.userConns[c.userID]++
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	found := false
	for _, topic := range c.topics {
		clients, ok := h.byTopic[topic]
		if !ok {
			continue
		}
		if _, exists := clients[c]; !exists {
			continue
		}
		delete(clients, c)
		found = true
		if len(clients) == 0 {
			delete(h.byTopic, topic)
		}
	}
	if found {
		h.total--
		h.userConns[c.userID]--
		if h.userConns[c.userID] <= 0 {
			delete(h.userConns, c.userID)
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// Broadcast forwards an encoded envelope to every client subscribed to the
// topic. Called from the event hub bridge goroutine.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.mu.RLock()
	clients, ok := h.byTopic[topic]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, data)
	}
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

// IsConnected reports whether the user has at least one live connection.
// Used to decide between live delivery and a push notification.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userConns[userID] > 0
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
