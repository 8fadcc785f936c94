package repository

import (
	"context"
	"time"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

// RoomStore is the membership store surface consumed by the access filter
// and the ingestion pipeline.
type RoomStore interface {
	Create(ctx context.Context, room *model.Room) error
	GetByID(ctx context.Context, id string) (*model.Room, error)
	AddMember(ctx context.Context, m *model.Participant) (bool, error)
	GetMember(ctx context.Context, roomID, userID string) (*model.Participant, error)
	SoftDeleteMember(ctx context.Context, roomID, userID string, at time.Time) error
	ListMembers(ctx context.Context, roomID string) ([]model.Participant, error)
	ActiveMemberIDs(ctx context.Context, roomID string) ([]string, error)
	RestoreAllDeparted(ctx context.Context, roomID string) ([]string, error)
	RoomsForUser(ctx context.Context, userID string) ([]model.Room, error)
	OpenRooms(ctx context.Context) ([]model.Room, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error)
	CountByRoom(ctx context.Context, roomID string) (int, error)
}

// UnreadStore is consumed exclusively by the unread engine.
type UnreadStore interface {
	IncrementIfStale(ctx context.Context, roomID, userID string, staleBefore time.Time) (int, bool, error)
	Reset(ctx context.Context, roomID, userID string, at time.Time) error
	AggregateForUser(ctx context.Context, userID string) (map[string]int, error)
}

var (
	_ RoomStore    = (*RoomRepository)(nil)
	_ MessageStore = (*MessageRepository)(nil)
	_ UnreadStore  = (*UnreadRepository)(nil)
)
