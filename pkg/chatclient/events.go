package chatclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried on the hub topics.
const (
	EventMessageCreated     = "message_created"
	EventRoomCreated        = "room_created"
	EventMembershipRestored = "membership_restored"
	EventUnreadChanged      = "unread_changed"
)

// Envelope is the wire frame of every hub event.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("parse envelope: missing type")
	}
	return &env, nil
}

// Message decodes a message_created payload.
func (e *Envelope) Message() (Message, error) {
	var msg Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}
	return msg, nil
}

// Room is the wire shape of a room on membership events and room lists.
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	SubjectRef *string   `json:"subject_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MembershipChange is the payload on the user's rooms topic.
type MembershipChange struct {
	Room   Room   `json:"room"`
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (e *Envelope) Membership() (MembershipChange, error) {
	var mc MembershipChange
	if err := json.Unmarshal(e.Payload, &mc); err != nil {
		return MembershipChange{}, fmt.Errorf("decode membership payload: %w", err)
	}
	return mc, nil
}

// UnreadDelta is the payload on the user's unread topic.
type UnreadDelta struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	UnreadCount int       `json:"unread_count"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *Envelope) UnreadDelta() (UnreadDelta, error) {
	var d UnreadDelta
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return UnreadDelta{}, fmt.Errorf("decode unread payload: %w", err)
	}
	return d, nil
}

// Badges tracks per-room unread counts from delta events. Deltas carry the
// absolute count plus a timestamp, so replays and reordering reduce to a
// newest-wins rule.
type Badges struct {
	counts map[string]int
	stamps map[string]time.Time
}

func NewBadges() *Badges {
	return &Badges{
		counts: make(map[string]int),
		stamps: make(map[string]time.Time),
	}
}

// Apply folds in a delta. Older or replayed deltas are ignored.
func (b *Badges) Apply(d UnreadDelta) {
	if last, ok := b.stamps[d.RoomID]; ok && !d.Timestamp.After(last) {
		return
	}
	b.counts[d.RoomID] = d.UnreadCount
	b.stamps[d.RoomID] = d.Timestamp
}

// Set seeds a count from a room-list fetch, taking the fetch time as its
// authority stamp.
func (b *Badges) Set(roomID string, count int, at time.Time) {
	if last, ok := b.stamps[roomID]; ok && !at.After(last) {
		return
	}
	b.counts[roomID] = count
	b.stamps[roomID] = at
}

// Count returns the current badge for the room, zero when unknown.
func (b *Badges) Count(roomID string) int { return b.counts[roomID] }

// Total sums every room's badge for an app-level indicator.
func (b *Badges) Total() int {
	n := 0
	for _, c := range b.counts {
		n += c
	}
	return n
}
