package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer upgrades every request and registers the connection under the
// user and topics from the query string.
func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		userID := r.URL.Query().Get("user")
		topics := strings.Split(r.URL.Query().Get("topics"), ",")
		ctx, cancel := context.WithCancel(context.Background())
		client := NewClient(hub, conn, userID, topics)
		client.Start(ctx, cancel)
		hub.Register(client)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, user string, topics ...string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + user + "&topics=" + strings.Join(topics, ",")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readOne(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHubBroadcastByTopic(t *testing.T) {
	hub := NewHub(Options{MaxConns: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	srv := newTestServer(t, hub)

	alice := dial(t, srv, "alice", "room/r1", "user/alice/unread")
	bob := dial(t, srv, "bob", "room/r2")

	require.Eventually(t, func() bool {
		return hub.IsConnected("alice") && hub.IsConnected("bob")
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast("room/r1", []byte(`{"type":"message_created"}`))
	assert.Equal(t, `{"type":"message_created"}`, readOne(t, alice))

	hub.Broadcast("room/r2", []byte(`{"type":"for_bob"}`))
	assert.Equal(t, `{"type":"for_bob"}`, readOne(t, bob))

	hub.Broadcast("user/alice/unread", []byte(`{"type":"unread_changed"}`))
	assert.Equal(t, `{"type":"unread_changed"}`, readOne(t, alice))
}

func TestHubBroadcastUnknownTopicIsNoop(t *testing.T) {
	hub := NewHub(Options{MaxConns: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.Broadcast("room/ghost", []byte(`{}`))
}

func TestHubPresenceTracksDisconnect(t *testing.T) {
	hub := NewHub(Options{MaxConns: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "alice", "room/r1")
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsConnected("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestHubPresenceCountsMultipleConnections(t *testing.T) {
	hub := NewHub(Options{MaxConns: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	srv := newTestServer(t, hub)

	first := dial(t, srv, "alice", "room/r1")
	second := dial(t, srv, "alice", "room/r1")
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, 2*time.Second, 10*time.Millisecond)

	first.Close()
	// Still connected through the second device.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, hub.IsConnected("alice"))

	second.Close()
	require.Eventually(t, func() bool { return !hub.IsConnected("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestHubConnectionLimit(t *testing.T) {
	hub := NewHub(Options{MaxConns: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	srv := newTestServer(t, hub)

	dial(t, srv, "alice", "room/r1")
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, 2*time.Second, 10*time.Millisecond)

	over := dial(t, srv, "bob", "room/r1")
	// The hub rejects the connection; the client sees it closed.
	require.NoError(t, over.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := over.ReadMessage()
	assert.Error(t, err)
	assert.False(t, hub.IsConnected("bob"))
}

func TestHubOptionsAppliedToClients(t *testing.T) {
	hub := NewHub(Options{
		MaxConns:       8,
		SendBufferSize: 4,
		WriteTimeout:   2 * time.Second,
		PongTimeout:    20 * time.Second,
	})
	client := NewClient(hub, nil, "alice", []string{"room/r1"})
	assert.Equal(t, 4, cap(client.send))
	assert.Equal(t, 2*time.Second, hub.writeWait)
	assert.Equal(t, 20*time.Second, hub.pongWait)
	assert.Equal(t, 18*time.Second, hub.pingPeriod)
}

func TestHubOptionsDefaults(t *testing.T) {
	hub := NewHub(Options{})
	assert.Equal(t, 10000, hub.maxConns)
	assert.Equal(t, 256, hub.sendBufSize)
	assert.Equal(t, 10*time.Second, hub.writeWait)
	assert.Equal(t, 60*time.Second, hub.pongWait)
}
