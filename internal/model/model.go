package model

import "time"

type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
	RoomKindOpen   RoomKind = "open"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Room is a named channel. Open rooms are visible to every authenticated
// user; direct/group rooms only to their explicit members.
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       RoomKind  `json:"kind"`
	SubjectRef *string   `json:"subject_ref,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Participant is a user's membership record in a room. Departure is a soft
// state: LeftAt is set on leave and cleared again when new activity arrives
// in the room (restore), so history and unread state survive a leave.
type Participant struct {
	RoomID   string     `json:"room_id"`
	UserID   string     `json:"user_id"`
	Role     Role       `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Active reports whether the participant currently counts as a member.
func (p *Participant) Active() bool { return p.LeftAt == nil }

// Message is immutable once created.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// UnreadCounter is the per-participant read-state row. Count is only ever
// mutated by the unread engine, one atomic statement at a time.
type UnreadCounter struct {
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	Count      int       `json:"count"`
	LastReadAt time.Time `json:"last_read_at"`
}

// UnreadDelta is the counter event published on user/{userId}/unread.
type UnreadDelta struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	UnreadCount int       `json:"unread_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// RoomWithUnread annotates a room with the caller's unread count for the
// room-list endpoint.
type RoomWithUnread struct {
	Room   Room `json:"room"`
	Unread int  `json:"unread_count"`
}
