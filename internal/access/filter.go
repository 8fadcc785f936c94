// Package access computes which rooms and messages a user may see.
//
// Visibility is a union: rooms with an active membership row plus every open
// room. When an open room reaches a user with no row yet, the filter
// materializes one so unread counters and notifications have something to
// attach to. Materialization rides on the membership store's uniqueness
// constraint and is therefore idempotent under concurrency.
package access

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/repository"
	"github.com/MakFly/chatrealtime-monorepo-sub002/pkg/apperr"
)

type Filter struct {
	rooms repository.RoomStore
	now   func() time.Time
}

func NewFilter(rooms repository.RoomStore) *Filter {
	return &Filter{rooms: rooms, now: time.Now}
}

// RoomsVisibleTo returns the rooms the user may read, newest first. Open
// rooms the user had never touched get a membership row as a side effect.
func (f *Filter) RoomsVisibleTo(ctx context.Context, userID string) ([]model.Room, error) {
	memberRooms, err := f.rooms.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(memberRooms))
	for _, r := range memberRooms {
		seen[r.ID] = struct{}{}
	}

	openRooms, err := f.rooms.OpenRooms(ctx)
	if err != nil {
		return nil, err
	}
	visible := memberRooms
	for _, r := range openRooms {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		if err := f.materialize(ctx, r.ID, userID); err != nil {
			return nil, err
		}
		visible = append(visible, r)
	}

	sortRoomsNewestFirst(visible)
	return visible, nil
}

// CanRead authorizes read access and returns the room. Open rooms admit any
// authenticated user (materializing membership); direct/group rooms require
// an active membership row.
func (f *Filter) CanRead(ctx context.Context, userID, roomID string) (*model.Room, error) {
	return f.authorize(ctx, userID, roomID)
}

// CanWrite authorizes write access and returns the room. Open rooms
// auto-join the author; for direct/group rooms a departed member may not
// write. Only receiving a message restores membership, never sending one.
func (f *Filter) CanWrite(ctx context.Context, userID, roomID string) (*model.Room, error) {
	return f.authorize(ctx, userID, roomID)
}

func (f *Filter) authorize(ctx context.Context, userID, roomID string) (*model.Room, error) {
	room, err := f.rooms.GetByID(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("room not found")
	}
	if err != nil {
		return nil, err
	}

	if room.Kind == model.RoomKindOpen {
		if err := f.materialize(ctx, room.ID, userID); err != nil {
			return nil, err
		}
		return room, nil
	}

	member, err := f.rooms.GetMember(ctx, roomID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.AccessDenied("not a member of this room")
	}
	if err != nil {
		return nil, err
	}
	if !member.Active() {
		return nil, apperr.AccessDenied("membership is departed")
	}
	return room, nil
}

func (f *Filter) materialize(ctx context.Context, roomID, userID string) error {
	_, err := f.rooms.AddMember(ctx, &model.Participant{
		RoomID:   roomID,
		UserID:   userID,
		Role:     model.RoleMember,
		JoinedAt: f.now().UTC(),
	})
	return err
}

func sortRoomsNewestFirst(rooms []model.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
}
