package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventServer upgrades every request, records the auth header and requested
// topics, and writes the queued frames to each new connection.
func newEventServer(t *testing.T, frames [][]byte) (*httptest.Server, chan *http.Request) {
	t.Helper()
	requests := make(chan *http.Request, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for _, f := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, f))
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func envelope(t *testing.T, typ, topic string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Type: typ, Topic: topic, Payload: raw})
	require.NoError(t, err)
	return data
}

func TestSubscriberDispatchesByType(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := [][]byte{
		envelope(t, EventMessageCreated, "room/r1", Message{ID: "m1", RoomID: "r1", AuthorID: "bob", Content: "hi", CreatedAt: at}),
		envelope(t, EventMembershipRestored, "user/alice/rooms", MembershipChange{Room: Room{ID: "r1", Kind: "group"}, UserID: "alice", Reason: "restored"}),
		envelope(t, EventUnreadChanged, "user/alice/unread", UnreadDelta{RoomID: "r1", UserID: "alice", UnreadCount: 3, Timestamp: at}),
		[]byte("not json"),
	}
	srv, requests := newEventServer(t, frames)

	connected := make(chan struct{}, 4)
	messages := make(chan Message, 4)
	changes := make(chan MembershipChange, 4)
	deltas := make(chan UnreadDelta, 4)
	sub := NewSubscriber(wsURL(srv), "tok-123", []string{"room/r1", "user/alice/unread"}, Handlers{
		OnConnected:  func() { connected <- struct{}{} },
		OnMessage:    func(_ string, m Message) { messages <- m },
		OnMembership: func(_ string, mc MembershipChange) { changes <- mc },
		OnUnread:     func(_ string, d UnreadDelta) { deltas <- d },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	req := <-requests
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
	assert.Equal(t, "room/r1,user/alice/unread", req.URL.Query().Get("topics"))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected never fired")
	}

	select {
	case m := <-messages:
		assert.Equal(t, "m1", m.ID)
		assert.Equal(t, "hi", m.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("message event not dispatched")
	}
	select {
	case mc := <-changes:
		assert.Equal(t, "restored", mc.Reason)
		assert.Equal(t, "r1", mc.Room.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("membership event not dispatched")
	}
	select {
	case d := <-deltas:
		assert.Equal(t, 3, d.UnreadCount)
	case <-time.After(2 * time.Second):
		t.Fatal("unread event not dispatched")
	}
}

func TestSubscriberReconnectsAndRefetches(t *testing.T) {
	srv, requests := newEventServer(t, nil)

	connects := make(chan struct{}, 4)
	sub := NewSubscriber(wsURL(srv), "tok", []string{"room/r1"}, Handlers{
		OnConnected: func() { connects <- struct{}{} },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	// The server drops each connection after the handler returns, so a
	// second OnConnected proves the reconnect path ran the refetch hook.
	for i := 0; i < 2; i++ {
		select {
		case <-connects:
			<-requests
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never established", i+1)
		}
	}
}

func TestSubscriberReportsRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	errs := make(chan error, 4)
	sub := NewSubscriber(wsURL(srv), "bad-token", []string{"room/r1"}, Handlers{
		OnDisconnect: func(err error) { errs <- err },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	case <-time.After(2 * time.Second):
		t.Fatal("dial failure never reported")
	}
}

func TestSubscriberRunStopsOnCancel(t *testing.T) {
	srv, _ := newEventServer(t, nil)
	sub := NewSubscriber(wsURL(srv), "tok", []string{"room/r1"}, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
