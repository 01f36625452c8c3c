package signal

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/callbridge/internal/app"
	"github.com/avoronov/callbridge/internal/config"
	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
	"github.com/avoronov/callbridge/internal/store"
)

// stubWS satisfies WSConn for connections the test drives through
// dispatch directly, bypassing the pumps.
type stubWS struct{}

func (stubWS) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }
func (stubWS) WriteMessage(int, []byte) error    { return nil }
func (stubWS) SetReadDeadline(time.Time) error   { return nil }
func (stubWS) SetWriteDeadline(time.Time) error  { return nil }
func (stubWS) SetReadLimit(int64)                {}
func (stubWS) Close() error                      { return nil }

// recWS records frames written straight to the socket.
type recWS struct {
	stubWS
	mu     sync.Mutex
	frames [][]byte
}

func (w *recWS) WriteMessage(_ int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}

func (w *recWS) written(t *testing.T) []reply {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]reply, 0, len(w.frames))
	for _, f := range w.frames {
		var r reply
		require.NoError(t, json.Unmarshal(f, &r))
		out = append(out, r)
	}
	return out
}

// recConn stands in for a remote user's live connection.
type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) received(t *testing.T) []core.Outbound {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Outbound, 0, len(c.frames))
	for _, f := range c.frames {
		var o core.Outbound
		require.NoError(t, json.Unmarshal(f, &o))
		out = append(out, o)
	}
	return out
}

type userStore struct {
	mu      sync.Mutex
	users   map[domain.UserID]struct{}
	friends map[domain.UserID][]domain.UserID
}

func (s *userStore) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return nil, domain.ErrUnknownUser
	}
	return &domain.User{ID: id}, nil
}

func (s *userStore) SetAvailability(_ context.Context, id domain.UserID, _ domain.Availability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrUnknownUser
	}
	return nil
}

func (s *userStore) AcceptedFriendIDs(_ context.Context, id domain.UserID) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UserID(nil), s.friends[id]...), nil
}

type memStore struct {
	mu      sync.Mutex
	rooms   map[domain.RoomID]*domain.Room
	members map[domain.RoomID]map[domain.UserID]*domain.RoomMember
}

func newMemStore() *memStore {
	return &memStore{
		rooms:   make(map[domain.RoomID]*domain.Room),
		members: make(map[domain.RoomID]map[domain.UserID]*domain.RoomMember),
	}
}

func (s *memStore) CreateRoom(_ context.Context, kind domain.RoomKind, ownerID domain.UserID, invitees []domain.UserID, inviteeStatus domain.MemberStatus) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := &domain.Room{ID: domain.RoomID(uuid.NewString()), Kind: kind, OwnerID: ownerID, CreatedAt: time.Now()}
	s.rooms[room.ID] = room
	now := time.Now()
	recs := map[domain.UserID]*domain.RoomMember{
		ownerID: {RoomID: room.ID, UserID: ownerID, Status: domain.MemberAccepted, JoinedAt: &now},
	}
	for _, uid := range invitees {
		if uid != ownerID {
			recs[uid] = &domain.RoomMember{RoomID: room.ID, UserID: uid, Status: inviteeStatus}
		}
	}
	s.members[room.ID] = recs
	return room, nil
}

func (s *memStore) FindDirectRoom(_ context.Context, a, b domain.UserID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, room := range s.rooms {
		if room.Kind != domain.RoomDirect {
			continue
		}
		_, okA := s.members[id][a]
		_, okB := s.members[id][b]
		if okA && okB {
			return room, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNoMember
	}
	return room, nil
}

func (s *memStore) GetMember(_ context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.members[roomID][userID]
	if !ok {
		return nil, store.ErrNoMember
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) UpsertPending(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.members[roomID]
	if recs == nil {
		recs = make(map[domain.UserID]*domain.RoomMember)
		s.members[roomID] = recs
	}
	rec, ok := recs[userID]
	if !ok {
		recs[userID] = &domain.RoomMember{RoomID: roomID, UserID: userID, Status: domain.MemberPending}
	} else if rec.Status == domain.MemberLeft {
		rec.Status = domain.MemberPending
		rec.LeftAt = nil
	}
	return nil
}

func (s *memStore) RestoreAccepted(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.members[roomID]
	if recs == nil {
		recs = make(map[domain.UserID]*domain.RoomMember)
		s.members[roomID] = recs
	}
	rec, ok := recs[userID]
	if !ok {
		recs[userID] = &domain.RoomMember{RoomID: roomID, UserID: userID, Status: domain.MemberAccepted}
		return nil
	}
	rec.Status = domain.MemberAccepted
	rec.LeftAt = nil
	return nil
}

func (s *memStore) MarkAccepted(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.members[roomID][userID]
	if !ok {
		return store.ErrNoMember
	}
	now := time.Now()
	rec.Status = domain.MemberAccepted
	rec.JoinedAt = &now
	rec.LeftAt = nil
	return nil
}

func (s *memStore) MarkLeft(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.members[roomID][userID]
	if !ok {
		return store.ErrNoMember
	}
	now := time.Now()
	rec.Status = domain.MemberLeft
	rec.LeftAt = &now
	return nil
}

func (s *memStore) RoomMembers(_ context.Context, roomID domain.RoomID) ([]domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RoomMember
	for _, rec := range s.members[roomID] {
		out = append(out, *rec)
	}
	return out, nil
}

// testEnv assembles a controller over in-memory stores.
type testEnv struct {
	ctl        *Controller
	users      *userStore
	members    *memStore
	membership *app.Membership
	presence   *app.PresenceRegistry
	calls      *app.CallRegistry
}

func newTestEnv(t *testing.T, userIDs ...domain.UserID) *testEnv {
	t.Helper()
	users := &userStore{
		users:   make(map[domain.UserID]struct{}),
		friends: make(map[domain.UserID][]domain.UserID),
	}
	for _, id := range userIDs {
		users.users[id] = struct{}{}
	}
	members := newMemStore()
	presence := app.NewPresenceRegistry(users, 1, time.Millisecond)
	membership := app.NewMembership(members)
	calls := app.NewCallRegistry(time.Minute)
	relay := app.NewRelay(presence, membership)
	cfg := &config.Config{ReadLimit: 4096, PingPeriod: 54 * time.Second, InviteLimit: 3, InviteWindow: time.Minute}

	t.Cleanup(calls.Close)
	return &testEnv{
		ctl:        NewController(presence, calls, membership, relay, cfg),
		users:      users,
		members:    members,
		membership: membership,
		presence:   presence,
		calls:      calls,
	}
}

// connect registers a live remote connection for uid.
func (e *testEnv) connect(t *testing.T, uid domain.UserID) *recConn {
	t.Helper()
	conn := &recConn{}
	_, err := e.presence.Connect(context.Background(), uid, conn)
	require.NoError(t, err)
	return conn
}

// reply is the decoded shape of anything queued back on the sender's
// own connection, covering both Outbound frames and error frames.
type reply struct {
	Type    string          `json:"type"`
	Error   string          `json:"error"`
	From    domain.UserID   `json:"from"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// dispatch runs one envelope through the controller as uid and returns
// the replies queued on the sender's connection.
func (e *testEnv) dispatch(t *testing.T, uid domain.UserID, env core.Envelope) []reply {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	c := newSignalConn(stubWS{})
	e.ctl.dispatch(context.Background(), uid, c, data)
	return drainConn(t, c)
}

func drainConn(t *testing.T, c *wsSignalConn) []reply {
	t.Helper()
	var out []reply
	for {
		select {
		case f := <-c.send:
			var r reply
			require.NoError(t, json.Unmarshal(f, &r))
			out = append(out, r)
		default:
			return out
		}
	}
}
