// Package broadcast publishes persisted messages, membership changes and
// unread deltas to the event hub. Publishing is fire-and-forget relative to
// the request that triggered it: events go onto a bounded queue drained by a
// background worker, and a full queue or an unreachable hub degrades
// delivery (logged) without ever failing the request. Clients recover via
// refetch-on-reconnect.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

// Publisher delivers an encoded envelope to one topic of the event hub.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

const publishTimeout = 5 * time.Second

type queued struct {
	topic string
	data  []byte
}

type Broadcaster struct {
	pub   Publisher
	queue chan queued
	done  chan struct{}
}

func New(pub Publisher, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Broadcaster{
		pub:   pub,
		queue: make(chan queued, queueSize),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled. Remaining queued events are
// flushed best-effort on shutdown.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.flush()
			return
		case q := <-b.queue:
			b.publish(q)
		}
	}
}

func (b *Broadcaster) flush() {
	for {
		select {
		case q := <-b.queue:
			b.publish(q)
		default:
			return
		}
	}
}

func (b *Broadcaster) publish(q queued) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, q.topic, q.data); err != nil {
		logger.Errorf("broadcast: delivery degraded, topic=%s: %v", q.topic, err)
	}
}

// enqueue never blocks; overflow drops the event and logs it. The counter
// state and the message itself remain durable, so a client catches up on
// its next fetch.
func (b *Broadcaster) enqueue(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Errorf("broadcast: encode %s: %v", env.Topic, err)
		return
	}
	select {
	case b.queue <- queued{topic: env.Topic, data: data}:
	case <-b.done:
	default:
		logger.Errorf("broadcast: queue full, dropping event topic=%s type=%s", env.Topic, env.Type)
	}
}

// MessageCreated publishes the persisted message on its room topic.
func (b *Broadcaster) MessageCreated(msg *model.Message) {
	b.enqueue(Envelope{
		Type:    EventMessageCreated,
		Topic:   RoomTopic(msg.RoomID),
		Payload: msg,
	})
}

// MembershipChanged notifies a single user that a room entered their room
// list (created, joined or restored).
func (b *Broadcaster) MembershipChanged(userID string, room *model.Room, reason string) {
	eventType := EventRoomCreated
	if reason == "restored" {
		eventType = EventMembershipRestored
	}
	b.enqueue(Envelope{
		Type:  eventType,
		Topic: UserRoomsTopic(userID),
		Payload: MembershipPayload{
			Room:   *room,
			UserID: userID,
			Reason: reason,
		},
	})
}

// UnreadChanged publishes a counter delta on the user's unread topic.
func (b *Broadcaster) UnreadChanged(delta model.UnreadDelta) {
	b.enqueue(Envelope{
		Type:    EventUnreadChanged,
		Topic:   UserUnreadTopic(delta.UserID),
		Payload: delta,
	})
}
