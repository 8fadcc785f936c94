package repository

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Create(ctx context.Context, room *model.Room) error {
	args := m.Called(room)
	return args.Error(0)
}
func (m *MockRoomStore) GetByID(ctx context.Context, id string) (*model.Room, error) {
	args := m.Called(id)
	if room, ok := args.Get(0).(*model.Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomStore) AddMember(ctx context.Context, p *model.Participant) (bool, error) {
	args := m.Called(p)
	return args.Bool(0), args.Error(1)
}
func (m *MockRoomStore) GetMember(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	args := m.Called(roomID, userID)
	if p, ok := args.Get(0).(*model.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomStore) SoftDeleteMember(ctx context.Context, roomID, userID string, at time.Time) error {
	args := m.Called(roomID, userID, at)
	return args.Error(0)
}
func (m *MockRoomStore) ListMembers(ctx context.Context, roomID string) ([]model.Participant, error) {
	args := m.Called(roomID)
	return args.Get(0).([]model.Participant), args.Error(1)
}
func (m *MockRoomStore) ActiveMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(roomID)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRoomStore) RestoreAllDeparted(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(roomID)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRoomStore) RoomsForUser(ctx context.Context, userID string) ([]model.Room, error) {
	args := m.Called(userID)
	return args.Get(0).([]model.Room), args.Error(1)
}
func (m *MockRoomStore) OpenRooms(ctx context.Context) ([]model.Room, error) {
	args := m.Called()
	return args.Get(0).([]model.Room), args.Error(1)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Create(ctx context.Context, msg *model.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockMessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(id)
	if msg, ok := args.Get(0).(*model.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(roomID, limit, offset)
	return args.Get(0).([]model.Message), args.Error(1)
}
func (m *MockMessageStore) CountByRoom(ctx context.Context, roomID string) (int, error) {
	args := m.Called(roomID)
	return args.Int(0), args.Error(1)
}

type MockUnreadStore struct {
	mock.Mock
}

func (m *MockUnreadStore) IncrementIfStale(ctx context.Context, roomID, userID string, staleBefore time.Time) (int, bool, error) {
	args := m.Called(roomID, userID, staleBefore)
	return args.Int(0), args.Bool(1), args.Error(2)
}
func (m *MockUnreadStore) Reset(ctx context.Context, roomID, userID string, at time.Time) error {
	args := m.Called(roomID, userID, at)
	return args.Error(0)
}
func (m *MockUnreadStore) AggregateForUser(ctx context.Context, userID string) (map[string]int, error) {
	args := m.Called(userID)
	return args.Get(0).(map[string]int), args.Error(1)
}

var (
	_ RoomStore    = (*MockRoomStore)(nil)
	_ MessageStore = (*MockMessageStore)(nil)
	_ UnreadStore  = (*MockUnreadStore)(nil)
)
