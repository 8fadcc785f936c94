package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	frames [][]byte
	err    error
	seen   chan struct{}
}

func newCapturePublisher(capacity int) *capturePublisher {
	return &capturePublisher{seen: make(chan struct{}, capacity)}
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.frames = append(p.frames, payload)
	p.mu.Unlock()
	p.seen <- struct{}{}
	return p.err
}

func (p *capturePublisher) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.seen:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for publish %d of %d", i+1, n)
		}
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "room/r1", RoomTopic("r1"))
	assert.Equal(t, "user/u1/rooms", UserRoomsTopic("u1"))
	assert.Equal(t, "user/u1/unread", UserUnreadTopic("u1"))

	topics := TopicsFor("u1", []string{"r1", "r2"})
	assert.Equal(t, []string{"room/r1", "room/r2", "user/u1/rooms", "user/u1/unread"}, topics)
}

func TestMessageCreatedPublishesOnRoomTopic(t *testing.T) {
	pub := newCapturePublisher(1)
	b := New(pub, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	msg := &model.Message{ID: "m1", RoomID: "r1", AuthorID: "u1", Content: "hi", CreatedAt: time.Now().UTC()}
	b.MessageCreated(msg)
	pub.wait(t, 1)

	assert.Equal(t, "room/r1", pub.topics[0])
	var env struct {
		Type    EventType       `json:"type"`
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.frames[0], &env))
	assert.Equal(t, EventMessageCreated, env.Type)
	assert.Equal(t, "room/r1", env.Topic)

	var got model.Message
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "hi", got.Content)
}

func TestUnreadChangedPublishesOnUserTopic(t *testing.T) {
	pub := newCapturePublisher(1)
	b := New(pub, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.UnreadChanged(model.UnreadDelta{RoomID: "r1", UserID: "u2", UnreadCount: 3, Timestamp: time.Now().UTC()})
	pub.wait(t, 1)

	assert.Equal(t, "user/u2/unread", pub.topics[0])
}

func TestMembershipChangedReason(t *testing.T) {
	pub := newCapturePublisher(2)
	b := New(pub, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	room := &model.Room{ID: "r1", Kind: model.RoomKindGroup}
	b.MembershipChanged("u1", room, "restored")
	b.MembershipChanged("u2", room, "created")
	pub.wait(t, 2)

	types := make([]EventType, 0, 2)
	for _, frame := range pub.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		types = append(types, env.Type)
	}
	assert.ElementsMatch(t, []EventType{EventMembershipRestored, EventRoomCreated}, types)
}

func TestOverflowDropsInsteadOfBlocking(t *testing.T) {
	// No worker running: the queue fills and further events must not block.
	b := New(newCapturePublisher(8), 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.UnreadChanged(model.UnreadDelta{RoomID: "r1", UserID: "u1", UnreadCount: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on full queue")
	}
	assert.Len(t, b.queue, 2)
}

func TestPublisherErrorDoesNotStopWorker(t *testing.T) {
	pub := newCapturePublisher(2)
	pub.err = errors.New("hub unreachable")
	b := New(pub, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.UnreadChanged(model.UnreadDelta{RoomID: "r1", UserID: "u1", UnreadCount: 1})
	b.UnreadChanged(model.UnreadDelta{RoomID: "r1", UserID: "u1", UnreadCount: 2})
	pub.wait(t, 2)

	// Both events were attempted despite the first failure.
	assert.Len(t, pub.topics, 2)
}
