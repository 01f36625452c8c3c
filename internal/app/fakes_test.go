package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
	"github.com/avoronov/callbridge/internal/store"
)

// fakeConn records every frame pushed at it. Safe for concurrent use:
// presence notifications arrive from a background goroutine.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) decoded() []core.Outbound {
	var out []core.Outbound
	for _, f := range c.Frames() {
		var o core.Outbound
		if err := json.Unmarshal(f, &o); err == nil {
			out = append(out, o)
		}
	}
	return out
}

type fakeUserStore struct {
	mu           sync.Mutex
	users        map[domain.UserID]*domain.User
	friends      map[domain.UserID][]domain.UserID
	availability map[domain.UserID]domain.Availability
}

func newFakeUserStore(ids ...domain.UserID) *fakeUserStore {
	s := &fakeUserStore{
		users:        make(map[domain.UserID]*domain.User),
		friends:      make(map[domain.UserID][]domain.UserID),
		availability: make(map[domain.UserID]domain.Availability),
	}
	for _, id := range ids {
		s.users[id] = &domain.User{ID: id, Username: "u", Availability: domain.AvailabilityOffline}
	}
	return s
}

func (s *fakeUserStore) befriend(a, b domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[a] = append(s.friends[a], b)
	s.friends[b] = append(s.friends[b], a)
}

func (s *fakeUserStore) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUnknownUser
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) SetAvailability(_ context.Context, id domain.UserID, a domain.Availability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrUnknownUser
	}
	s.availability[id] = a
	return nil
}

func (s *fakeUserStore) AcceptedFriendIDs(_ context.Context, id domain.UserID) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UserID(nil), s.friends[id]...), nil
}

// fakeMemberStore mirrors the postgres transition semantics in memory,
// including the upsert conditions.
type fakeMemberStore struct {
	mu      sync.Mutex
	rooms   map[domain.RoomID]*domain.Room
	members map[domain.RoomID]map[domain.UserID]*domain.RoomMember
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{
		rooms:   make(map[domain.RoomID]*domain.Room),
		members: make(map[domain.RoomID]map[domain.UserID]*domain.RoomMember),
	}
}

func (s *fakeMemberStore) CreateRoom(_ context.Context, kind domain.RoomKind, ownerID domain.UserID, invitees []domain.UserID, inviteeStatus domain.MemberStatus) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := &domain.Room{
		ID:        domain.RoomID(uuid.NewString()),
		Kind:      kind,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
	s.rooms[room.ID] = room

	now := time.Now()
	recs := map[domain.UserID]*domain.RoomMember{
		ownerID: {RoomID: room.ID, UserID: ownerID, Status: domain.MemberAccepted, JoinedAt: &now},
	}
	for _, uid := range invitees {
		if uid == ownerID {
			continue
		}
		recs[uid] = &domain.RoomMember{RoomID: room.ID, UserID: uid, Status: inviteeStatus}
	}
	s.members[room.ID] = recs
	return room, nil
}

func (s *fakeMemberStore) FindDirectRoom(_ context.Context, a, b domain.UserID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, room := range s.rooms {
		if room.Kind != domain.RoomDirect {
			continue
		}
		recs := s.members[id]
		if _, okA := recs[a]; !okA {
			continue
		}
		if _, okB := recs[b]; okB {
			return room, nil
		}
	}
	return nil, nil
}

func (s *fakeMemberStore) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNoMember
	}
	return room, nil
}

func (s *fakeMemberStore) GetMember(_ context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.members[roomID][userID]
	if !ok {
		return nil, store.ErrNoMember
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeMemberStore) UpsertPending(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
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
		return nil
	}
	if rec.Status == domain.MemberLeft {
		rec.Status = domain.MemberPending
		rec.LeftAt = nil
	}
	return nil
}

func (s *fakeMemberStore) RestoreAccepted(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
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

func (s *fakeMemberStore) MarkAccepted(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
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

func (s *fakeMemberStore) MarkLeft(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
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

func (s *fakeMemberStore) RoomMembers(_ context.Context, roomID domain.RoomID) ([]domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RoomMember
	for _, rec := range s.members[roomID] {
		out = append(out, *rec)
	}
	return out, nil
}
