// Package chat implements the message ingestion pipeline and the room
// lifecycle operations on top of the membership store, the access filter,
// the unread engine and the event broadcaster.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/access"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/broadcast"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/repository"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/unread"
	"github.com/MakFly/chatrealtime-monorepo-sub002/pkg/apperr"
)

// Events receives domain events for fan-out. Implemented by
// broadcast.Broadcaster; delivery is best-effort and never fails a request.
type Events interface {
	MessageCreated(msg *model.Message)
	MembershipChanged(userID string, room *model.Room, reason string)
}

// Presence reports whether a user has at least one live connection.
type Presence interface {
	IsConnected(userID string) bool
}

// PushSender forwards a notification for users without a live connection.
type PushSender interface {
	Notify(ctx context.Context, userID string, msg *model.Message)
}

// History is one page of a room's message timeline, newest first.
type History struct {
	Messages []model.Message `json:"messages"`
	Total    int             `json:"total"`
	HasMore  bool            `json:"has_more"`
}

type Service struct {
	rooms    repository.RoomStore
	messages repository.MessageStore
	filter   *access.Filter
	unread   *unread.Engine
	events   Events
	presence Presence
	push     PushSender

	maxMessageLength int
	pageSize         int
	pageMax          int
	now              func() time.Time
}

// pushDeliveryTimeout bounds the detached context of one push fan-out batch.
const pushDeliveryTimeout = 30 * time.Second

type Options struct {
	MaxMessageLength int
	HistoryPageSize  int
	HistoryPageMax   int
	Presence         Presence
	Push             PushSender
}

func NewService(rooms repository.RoomStore, messages repository.MessageStore, filter *access.Filter, engine *unread.Engine, events Events, opts Options) *Service {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 4096
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 30
	}
	if opts.HistoryPageMax <= 0 {
		opts.HistoryPageMax = 100
	}
	return &Service{
		rooms:            rooms,
		messages:         messages,
		filter:           filter,
		unread:           engine,
		events:           events,
		presence:         opts.Presence,
		push:             opts.Push,
		maxMessageLength: opts.MaxMessageLength,
		pageSize:         opts.HistoryPageSize,
		pageMax:          opts.HistoryPageMax,
		now:              time.Now,
	}
}

// CreateRoom persists a room with the creator as admin plus the given
// initial members, and notifies each member's room list.
func (s *Service) CreateRoom(ctx context.Context, creatorID, name string, kind model.RoomKind, subjectRef *string, memberIDs []string) (*model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("room name is required")
	}
	switch kind {
	case model.RoomKindDirect, model.RoomKindGroup, model.RoomKindOpen:
	default:
		return nil, apperr.Validation("unknown room kind")
	}

	now := s.now().UTC()
	room := &model.Room{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       kind,
		SubjectRef: subjectRef,
		CreatedBy:  creatorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, apperr.Internal("create room", err)
	}

	members := []string{creatorID}
	for _, id := range memberIDs {
		if id != creatorID {
			members = append(members, id)
		}
	}
	for i, userID := range members {
		role := model.RoleMember
		if i == 0 {
			role = model.RoleAdmin
		}
		if _, err := s.rooms.AddMember(ctx, &model.Participant{
			RoomID:   room.ID,
			UserID:   userID,
			Role:     role,
			JoinedAt: now,
		}); err != nil {
			return nil, apperr.Internal("add member", err)
		}
		s.events.MembershipChanged(userID, room, "created")
	}
	return room, nil
}

// Rooms returns the user's visible rooms annotated with unread counts.
func (s *Service) Rooms(ctx context.Context, userID string) ([]model.RoomWithUnread, error) {
	rooms, err := s.filter.RoomsVisibleTo(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.unread.AggregateForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("aggregate unread", err)
	}
	out := make([]model.RoomWithUnread, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, model.RoomWithUnread{Room: r, Unread: counts[r.ID]})
	}
	return out, nil
}

// Join adds the user to a room. A row already present, active or departed,
// is a conflict: departed members come back only when a message restores
// them.
func (s *Service) Join(ctx context.Context, userID, roomID string) error {
	room, err := s.filter.CanRead(ctx, userID, roomID)
	if apperr.IsCode(err, apperr.CodeAccessDenied) {
		// Non-members may join group rooms; only direct rooms stay closed.
		return s.joinGroup(ctx, userID, roomID)
	}
	if err != nil {
		return err
	}
	if room.Kind == model.RoomKindOpen {
		// CanRead already materialized the membership row.
		return nil
	}
	return apperr.Conflict("already a member of this room")
}

func (s *Service) joinGroup(ctx context.Context, userID, roomID string) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return apperr.NotFound("room not found")
	}
	if room.Kind == model.RoomKindDirect {
		return apperr.AccessDenied("direct rooms cannot be joined")
	}
	inserted, err := s.rooms.AddMember(ctx, &model.Participant{
		RoomID:   roomID,
		UserID:   userID,
		Role:     model.RoleMember,
		JoinedAt: s.now().UTC(),
	})
	if err != nil {
		return apperr.Internal("join room", err)
	}
	if !inserted {
		return apperr.Conflict("already a member of this room")
	}
	s.events.MembershipChanged(userID, room, "joined")
	return nil
}

// Leave soft-deletes the membership row. Leaving twice is a no-op.
func (s *Service) Leave(ctx context.Context, userID, roomID string) error {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return apperr.NotFound("room not found")
	}
	if err := s.rooms.SoftDeleteMember(ctx, roomID, userID, s.now().UTC()); err != nil {
		return apperr.Internal("leave room", err)
	}
	return nil
}

// Members lists a room's participants, departed ones included.
func (s *Service) Members(ctx context.Context, userID, roomID string) ([]model.Participant, error) {
	if _, err := s.filter.CanRead(ctx, userID, roomID); err != nil {
		return nil, err
	}
	members, err := s.rooms.ListMembers(ctx, roomID)
	if err != nil {
		return nil, apperr.Internal("list members", err)
	}
	return members, nil
}

// Send runs the ingestion pipeline: validate, authorize, persist, restore
// departed members, bump unread counters and fan out. Once the message is
// stored the send has succeeded; everything after is best-effort.
func (s *Service) Send(ctx context.Context, authorID, roomID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("message content is required")
	}
	if utf8.RuneCountInString(content) > s.maxMessageLength {
		return nil, apperr.Validation("message content is too long")
	}

	room, err := s.filter.CanWrite(ctx, authorID, roomID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperr.Internal("store message", err)
	}

	restored, err := s.rooms.RestoreAllDeparted(ctx, room.ID)
	if err != nil {
		logger.Errorf("chat: restore departed members room=%s: %v", room.ID, err)
		restored = nil
	}

	s.events.MessageCreated(msg)
	for _, userID := range restored {
		s.events.MembershipChanged(userID, room, "restored")
	}

	s.fanOutCounters(ctx, msg)
	return msg, nil
}

// fanOutCounters bumps the unread counter of every active member except the
// author and pushes to members with no live connection. Failures degrade to
// a log line; the counter rows and the message stay consistent in the store.
func (s *Service) fanOutCounters(ctx context.Context, msg *model.Message) {
	memberIDs, err := s.rooms.ActiveMemberIDs(ctx, msg.RoomID)
	if err != nil {
		logger.Errorf("chat: list active members room=%s: %v", msg.RoomID, err)
		return
	}
	var offline []string
	for _, userID := range memberIDs {
		if userID == msg.AuthorID {
			continue
		}
		if err := s.unread.Increment(ctx, msg.RoomID, userID); err != nil {
			logger.Errorf("chat: unread increment room=%s user=%s: %v", msg.RoomID, userID, err)
		}
		if s.push != nil && (s.presence == nil || !s.presence.IsConnected(userID)) {
			offline = append(offline, userID)
		}
	}
	if len(offline) > 0 {
		go s.notifyOffline(offline, msg)
	}
}

// notifyOffline delivers push notifications off the send path. It runs on a
// fresh context so delivery outlives the originating request; the sidecar
// client already logs its own failures.
func (s *Service) notifyOffline(userIDs []string, msg *model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), pushDeliveryTimeout)
	defer cancel()
	for _, userID := range userIDs {
		s.push.Notify(ctx, userID, msg)
	}
}

// History returns one page of a room's messages, newest first.
func (s *Service) History(ctx context.Context, userID, roomID string, limit, offset int) (*History, error) {
	if _, err := s.filter.CanRead(ctx, userID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.pageMax {
		limit = s.pageMax
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.messages.ListByRoom(ctx, roomID, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	total, err := s.messages.CountByRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Internal("count messages", err)
	}
	return &History{
		Messages: msgs,
		Total:    total,
		HasMore:  offset+len(msgs) < total,
	}, nil
}

// MarkRead zeroes the user's unread counter for the room and stamps the
// read time, arming the grace window. Clients call it on open and then on a
// heartbeat while the room stays visible.
func (s *Service) MarkRead(ctx context.Context, userID, roomID string) error {
	if _, err := s.filter.CanRead(ctx, userID, roomID); err != nil {
		return err
	}
	if err := s.unread.MarkRead(ctx, roomID, userID); err != nil {
		return apperr.Internal("mark read", err)
	}
	return nil
}

// Topics lists the event topics the user is entitled to subscribe to.
func (s *Service) Topics(ctx context.Context, userID string) ([]string, error) {
	rooms, err := s.filter.RoomsVisibleTo(ctx, userID)
	if err != nil {
		return nil, err
	}
	roomIDs := make([]string, 0, len(rooms))
	for _, r := range rooms {
		roomIDs = append(roomIDs, r.ID)
	}
	return broadcast.TopicsFor(userID, roomIDs), nil
}
