// Package chatclient reconciles a client's view of a room timeline with the
// server. Sends render immediately as pending optimistic entries; events
// from the hub and pages from the history endpoint are merged in with
// deduplication, so at-least-once delivery and reconnect replays never show
// a message twice.
package chatclient

import (
	"sort"
	"time"
)

// Message is the wire shape of a persisted message.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is one timeline row. Pending entries are optimistic local sends
// without a durable ID yet.
type Entry struct {
	Message
	Pending bool `json:"pending"`
}

// matchHorizon bounds how old a pending entry may be and still absorb an
// incoming event. Beyond it the event is treated as someone else's message
// with coincidentally equal content.
const matchHorizon = 2 * time.Minute

// Timeline holds the reconciled message list of a single room, sorted by
// createdAt with ID as tie-break. Not safe for concurrent use; callers
// drive it from their UI loop.
type Timeline struct {
	roomID  string
	entries []Entry
	total   int
	hasMore bool
}

func NewTimeline(roomID string) *Timeline {
	return &Timeline{roomID: roomID}
}

func (t *Timeline) RoomID() string { return t.roomID }

// Entries returns the current view, oldest first.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// HasMore reports whether older pages remain on the server.
func (t *Timeline) HasMore() bool { return t.hasMore }

// Total is the server-reported message count, when known.
func (t *Timeline) Total() int { return t.total }

// AddPending appends an optimistic entry for a local send. The entry stays
// pending until the authoritative event or a refetch confirms it.
func (t *Timeline) AddPending(authorID, content string, at time.Time) {
	t.entries = append(t.entries, Entry{
		Message: Message{
			RoomID:    t.roomID,
			AuthorID:  authorID,
			Content:   content,
			CreatedAt: at,
		},
		Pending: true,
	})
	t.sortEntries()
}

// ApplyEvent merges a hub-delivered message. A known ID is dropped
// (at-least-once delivery), a matching pending entry is replaced by the
// authoritative row, anything else is appended.
func (t *Timeline) ApplyEvent(msg Message) {
	if msg.RoomID != t.roomID || t.hasID(msg.ID) {
		return
	}
	if i := t.matchPending(msg); i >= 0 {
		t.entries[i] = Entry{Message: msg}
	} else {
		t.entries = append(t.entries, Entry{Message: msg})
		t.total++
	}
	t.sortEntries()
}

// MergeHistory merges one history page (newest first, as served) and the
// server's total count. Rows are deduplicated by ID, pending entries that
// show up confirmed in the page are purged, and has-more is recomputed from
// total versus loaded.
func (t *Timeline) MergeHistory(page []Message, total int) {
	for _, msg := range page {
		if msg.RoomID != t.roomID || t.hasID(msg.ID) {
			continue
		}
		if i := t.matchPending(msg); i >= 0 {
			t.entries[i] = Entry{Message: msg}
		} else {
			t.entries = append(t.entries, Entry{Message: msg})
		}
	}
	t.total = total
	t.hasMore = t.confirmedCount() < total
	t.sortEntries()
}

// Reconcile purges pending entries older than the horizon. Called
// periodically and after a full refetch: an optimistic entry that never got
// confirmed by then belongs to a send that failed, and keeping it would
// show a ghost message.
func (t *Timeline) Reconcile(now time.Time) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.Pending && now.Sub(e.CreatedAt) > matchHorizon {
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
}

// PendingCount returns the number of unconfirmed optimistic entries.
func (t *Timeline) PendingCount() int {
	n := 0
	for _, e := range t.entries {
		if e.Pending {
			n++
		}
	}
	return n
}

func (t *Timeline) hasID(id string) bool {
	if id == "" {
		return false
	}
	for _, e := range t.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// matchPending finds the oldest pending entry with the same author and
// content within the horizon, or -1.
func (t *Timeline) matchPending(msg Message) int {
	for i, e := range t.entries {
		if !e.Pending || e.AuthorID != msg.AuthorID || e.Content != msg.Content {
			continue
		}
		d := msg.CreatedAt.Sub(e.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= matchHorizon {
			return i
		}
	}
	return -1
}

func (t *Timeline) confirmedCount() int {
	n := 0
	for _, e := range t.entries {
		if !e.Pending {
			n++
		}
	}
	return n
}

func (t *Timeline) sortEntries() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
