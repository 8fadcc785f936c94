package broadcast

import (
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

type EventType string

const (
	EventMessageCreated     EventType = "message_created"
	EventRoomCreated        EventType = "room_created"
	EventMembershipRestored EventType = "membership_restored"
	EventUnreadChanged      EventType = "unread_changed"
)

// Envelope is the JSON frame published on every topic and relayed verbatim
// to WebSocket subscribers. Payload uses typed structs, not map[string]any.
type Envelope struct {
	Type    EventType `json:"type"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
}

// MembershipPayload is published on user/{userId}/rooms when a room becomes
// visible to the user: freshly created, explicitly joined, or restored by
// new activity after the user had left.
type MembershipPayload struct {
	Room   model.Room `json:"room"`
	UserID string     `json:"user_id"`
	Reason string     `json:"reason"` // created | joined | restored
}
