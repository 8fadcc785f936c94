package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/access"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/repository"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/unread"
	"github.com/MakFly/chatrealtime-monorepo-sub002/pkg/apperr"
)

type membershipEvent struct {
	UserID string
	RoomID string
	Reason string
}

type eventsRecorder struct {
	mu         sync.Mutex
	messages   []*model.Message
	membership []membershipEvent
}

func (r *eventsRecorder) MessageCreated(msg *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *eventsRecorder) MembershipChanged(userID string, room *model.Room, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.membership = append(r.membership, membershipEvent{UserID: userID, RoomID: room.ID, Reason: reason})
}

type deltaRecorder struct {
	mu     sync.Mutex
	deltas []model.UnreadDelta
}

func (r *deltaRecorder) UnreadChanged(d model.UnreadDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

type pushRecorder struct {
	mu    sync.Mutex
	users []string
}

func (r *pushRecorder) Notify(_ context.Context, userID string, _ *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}

func (r *pushRecorder) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.users...)
}

// slowPush simulates a sidecar round trip that takes real time.
type slowPush struct {
	pushRecorder
	delay time.Duration
}

func (p *slowPush) Notify(ctx context.Context, userID string, msg *model.Message) {
	time.Sleep(p.delay)
	p.pushRecorder.Notify(ctx, userID, msg)
}

type presenceSet map[string]bool

func (p presenceSet) IsConnected(userID string) bool { return p[userID] }

type fixture struct {
	rooms    *repository.MockRoomStore
	messages *repository.MockMessageStore
	counters *repository.MockUnreadStore
	events   *eventsRecorder
	deltas   *deltaRecorder
	svc      *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		rooms:    new(repository.MockRoomStore),
		messages: new(repository.MockMessageStore),
		counters: new(repository.MockUnreadStore),
		events:   new(eventsRecorder),
		deltas:   new(deltaRecorder),
	}
	engine := unread.NewEngine(f.counters, f.deltas, 10*time.Second)
	f.svc = NewService(f.rooms, f.messages, access.NewFilter(f.rooms), engine, f.events, opts)
	return f
}

func groupRoom(id string) *model.Room {
	return &model.Room{ID: id, Name: id, Kind: model.RoomKindGroup, CreatedAt: time.Now().UTC()}
}

func activeMember(roomID, userID string) *model.Participant {
	return &model.Participant{RoomID: roomID, UserID: userID, Role: model.RoleMember}
}

func TestSendPipeline(t *testing.T) {
	f := newFixture(t, Options{})
	room := groupRoom("r1")

	f.rooms.On("GetByID", "r1").Return(room, nil)
	f.rooms.On("GetMember", "r1", "alice").Return(activeMember("r1", "alice"), nil)
	f.messages.On("Create", mock.MatchedBy(func(m *model.Message) bool {
		return m.RoomID == "r1" && m.AuthorID == "alice" && m.Content == "hello" && m.ID != ""
	})).Return(nil).Once()
	f.rooms.On("RestoreAllDeparted", "r1").Return([]string{"carol"}, nil)
	f.rooms.On("ActiveMemberIDs", "r1").Return([]string{"alice", "bob", "carol"}, nil)
	f.counters.On("IncrementIfStale", "r1", "bob", mock.AnythingOfType("time.Time")).Return(1, true, nil)
	f.counters.On("IncrementIfStale", "r1", "carol", mock.AnythingOfType("time.Time")).Return(3, true, nil)

	msg, err := f.svc.Send(context.Background(), "alice", "r1", "hello")
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.Len(t, f.events.messages, 1)
	assert.Equal(t, msg.ID, f.events.messages[0].ID)
	assert.Equal(t, []membershipEvent{{UserID: "carol", RoomID: "r1", Reason: "restored"}}, f.events.membership)

	require.Len(t, f.deltas.deltas, 2)
	byUser := map[string]int{}
	for _, d := range f.deltas.deltas {
		byUser[d.UserID] = d.UnreadCount
	}
	assert.Equal(t, map[string]int{"bob": 1, "carol": 3}, byUser)
	f.counters.AssertNotCalled(t, "IncrementIfStale", "r1", "alice", mock.Anything)
	f.rooms.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, Options{MaxMessageLength: 10})

	_, err := f.svc.Send(context.Background(), "alice", "r1", "   ")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = f.svc.Send(context.Background(), "alice", "r1", strings.Repeat("x", 11))
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	f.messages.AssertNotCalled(t, "Create", mock.Anything)
}

func TestSendByNonMemberRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
	f.rooms.On("GetMember", "r1", "mallory").Return(nil, repository.ErrNotFound)

	_, err := f.svc.Send(context.Background(), "mallory", "r1", "hi")
	assert.True(t, apperr.IsCode(err, apperr.CodeAccessDenied))
	f.messages.AssertNotCalled(t, "Create", mock.Anything)
}

func TestSendGraceWindowSkipsViewer(t *testing.T) {
	f := newFixture(t, Options{})
	room := groupRoom("r1")
	f.rooms.On("GetByID", "r1").Return(room, nil)
	f.rooms.On("GetMember", "r1", "alice").Return(activeMember("r1", "alice"), nil)
	f.messages.On("Create", mock.Anything).Return(nil)
	f.rooms.On("RestoreAllDeparted", "r1").Return([]string{}, nil)
	f.rooms.On("ActiveMemberIDs", "r1").Return([]string{"alice", "bob"}, nil)
	// Guard rejected: bob read the room within the grace window.
	f.counters.On("IncrementIfStale", "r1", "bob", mock.AnythingOfType("time.Time")).Return(0, false, nil)

	_, err := f.svc.Send(context.Background(), "alice", "r1", "hi")
	require.NoError(t, err)
	assert.Empty(t, f.deltas.deltas, "no delta when the counter did not move")
}

func TestSendPushesToOfflineMembersOnly(t *testing.T) {
	push := new(pushRecorder)
	f := newFixture(t, Options{Presence: presenceSet{"bob": true}, Push: push})
	room := groupRoom("r1")
	f.rooms.On("GetByID", "r1").Return(room, nil)
	f.rooms.On("GetMember", "r1", "alice").Return(activeMember("r1", "alice"), nil)
	f.messages.On("Create", mock.Anything).Return(nil)
	f.rooms.On("RestoreAllDeparted", "r1").Return([]string{}, nil)
	f.rooms.On("ActiveMemberIDs", "r1").Return([]string{"alice", "bob", "carol"}, nil)
	f.counters.On("IncrementIfStale", "r1", mock.Anything, mock.Anything).Return(1, true, nil)

	_, err := f.svc.Send(context.Background(), "alice", "r1", "hi")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		users := push.Users()
		return len(users) == 1 && users[0] == "carol"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendDoesNotWaitForPushDelivery(t *testing.T) {
	push := &slowPush{delay: 250 * time.Millisecond}
	f := newFixture(t, Options{Push: push})
	room := groupRoom("r1")
	f.rooms.On("GetByID", "r1").Return(room, nil)
	f.rooms.On("GetMember", "r1", "alice").Return(activeMember("r1", "alice"), nil)
	f.messages.On("Create", mock.Anything).Return(nil)
	f.rooms.On("RestoreAllDeparted", "r1").Return([]string{}, nil)
	f.rooms.On("ActiveMemberIDs", "r1").Return([]string{"alice", "bob", "carol", "dave"}, nil)
	f.counters.On("IncrementIfStale", "r1", mock.Anything, mock.Anything).Return(1, true, nil)

	start := time.Now()
	_, err := f.svc.Send(context.Background(), "alice", "r1", "hi")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), push.delay, "send must return before push delivery completes")

	assert.Eventually(t, func() bool {
		return len(push.Users()) == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, Options{})
	f.rooms.On("Create", mock.MatchedBy(func(r *model.Room) bool {
		return r.Name == "standup" && r.Kind == model.RoomKindGroup && r.CreatedBy == "alice"
	})).Return(nil).Once()
	f.rooms.On("AddMember", mock.Anything).Return(true, nil)

	room, err := f.svc.CreateRoom(context.Background(), "alice", "standup", model.RoomKindGroup, nil, []string{"bob", "alice"})
	require.NoError(t, err)
	require.NotNil(t, room)

	require.Len(t, f.events.membership, 2, "creator listed once even when repeated in members")
	assert.Equal(t, "alice", f.events.membership[0].UserID)
	assert.Equal(t, "created", f.events.membership[0].Reason)
	assert.Equal(t, "bob", f.events.membership[1].UserID)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.CreateRoom(context.Background(), "alice", "  ", model.RoomKindGroup, nil, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = f.svc.CreateRoom(context.Background(), "alice", "x", model.RoomKind("secret"), nil, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestJoin(t *testing.T) {
	t.Run("group room as non-member", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
		f.rooms.On("GetMember", "r1", "bob").Return(nil, repository.ErrNotFound)
		f.rooms.On("AddMember", mock.Anything).Return(true, nil)

		require.NoError(t, f.svc.Join(context.Background(), "bob", "r1"))
		require.Len(t, f.events.membership, 1)
		assert.Equal(t, "joined", f.events.membership[0].Reason)
	})

	t.Run("already active member", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
		f.rooms.On("GetMember", "r1", "bob").Return(activeMember("r1", "bob"), nil)

		err := f.svc.Join(context.Background(), "bob", "r1")
		assert.True(t, apperr.IsCode(err, apperr.CodeConflict))
	})

	t.Run("departed member keeps departed row", func(t *testing.T) {
		left := time.Now().UTC()
		f := newFixture(t, Options{})
		f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
		f.rooms.On("GetMember", "r1", "bob").Return(&model.Participant{RoomID: "r1", UserID: "bob", LeftAt: &left}, nil)
		f.rooms.On("AddMember", mock.Anything).Return(false, nil)

		err := f.svc.Join(context.Background(), "bob", "r1")
		assert.True(t, apperr.IsCode(err, apperr.CodeConflict))
		f.rooms.AssertNotCalled(t, "RestoreAllDeparted", mock.Anything)
	})

	t.Run("direct room stays closed", func(t *testing.T) {
		f := newFixture(t, Options{})
		direct := &model.Room{ID: "d1", Kind: model.RoomKindDirect}
		f.rooms.On("GetByID", "d1").Return(direct, nil)
		f.rooms.On("GetMember", "d1", "bob").Return(nil, repository.ErrNotFound)

		err := f.svc.Join(context.Background(), "bob", "d1")
		assert.True(t, apperr.IsCode(err, apperr.CodeAccessDenied))
	})

	t.Run("open room is a no-op", func(t *testing.T) {
		f := newFixture(t, Options{})
		open := &model.Room{ID: "o1", Kind: model.RoomKindOpen}
		f.rooms.On("GetByID", "o1").Return(open, nil)
		f.rooms.On("AddMember", mock.Anything).Return(true, nil)

		assert.NoError(t, f.svc.Join(context.Background(), "bob", "o1"))
	})
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
	f.rooms.On("SoftDeleteMember", "r1", "bob", mock.AnythingOfType("time.Time")).Return(nil).Twice()

	require.NoError(t, f.svc.Leave(context.Background(), "bob", "r1"))
	require.NoError(t, f.svc.Leave(context.Background(), "bob", "r1"))
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t, Options{HistoryPageSize: 2, HistoryPageMax: 3})
	f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
	f.rooms.On("GetMember", "r1", "alice").Return(activeMember("r1", "alice"), nil)
	f.messages.On("ListByRoom", "r1", 2, 0).Return([]model.Message{{ID: "m2"}, {ID: "m1"}}, nil)
	f.messages.On("CountByRoom", "r1").Return(5, nil)

	page, err := f.svc.History(context.Background(), "alice", "r1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	f.messages.On("ListByRoom", "r1", 3, 4).Return([]model.Message{{ID: "m0"}}, nil)
	page, err = f.svc.History(context.Background(), "alice", "r1", 50, 4)
	require.NoError(t, err)
	assert.False(t, page.HasMore, "limit clamped to the page max, last page reported")
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t, Options{})
	f.rooms.On("GetByID", "r1").Return(groupRoom("r1"), nil)
	f.rooms.On("GetMember", "r1", "alice").Return(activeMember("r1", "alice"), nil)
	f.counters.On("Reset", "r1", "alice", mock.AnythingOfType("time.Time")).Return(nil).Once()

	require.NoError(t, f.svc.MarkRead(context.Background(), "alice", "r1"))

	require.Len(t, f.deltas.deltas, 1)
	assert.Equal(t, 0, f.deltas.deltas[0].UnreadCount)
	f.counters.AssertExpectations(t)
}

func TestTopics(t *testing.T) {
	f := newFixture(t, Options{})
	f.rooms.On("RoomsForUser", "alice").Return([]model.Room{{ID: "r1"}, {ID: "r2"}}, nil)
	f.rooms.On("OpenRooms").Return([]model.Room{}, nil)

	topics, err := f.svc.Topics(context.Background(), "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"room/r1",
		"room/r2",
		"user/alice/rooms",
		"user/alice/unread",
	}, topics)
}
