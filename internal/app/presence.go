package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

type presenceEntry struct {
	entry domain.PresenceEntry
	conn  core.SignalConnection
}

// PresenceRegistry tracks which users have a live control connection
// and their availability. One instance per process, injected into the
// adapters; lifecycle tied to process start/shutdown.
//
// Writes are serialized per user, not globally: map access takes the
// registry mutex briefly, while the store round-trip and the in-memory
// swap for one user run under that user's own lock.
type PresenceRegistry struct {
	users UserStore

	mu      sync.RWMutex
	entries map[domain.UserID]*presenceEntry
	locks   map[domain.UserID]*sync.Mutex

	notifyCount int
	notifyDelay time.Duration
}

func NewPresenceRegistry(users UserStore, notifyCount int, notifyDelay time.Duration) *PresenceRegistry {
	if notifyCount < 1 {
		notifyCount = 1
	}
	return &PresenceRegistry{
		users:       users,
		entries:     make(map[domain.UserID]*presenceEntry),
		locks:       make(map[domain.UserID]*sync.Mutex),
		notifyCount: notifyCount,
		notifyDelay: notifyDelay,
	}
}

func (r *PresenceRegistry) userLock(id domain.UserID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Connect admits a control connection for userID. A prior connection
// for the same user is superseded and closed. The persisted
// availability flips to online together with the in-memory entry; if
// the persisted user record does not exist, the connection is rejected
// with domain.ErrUnknownUser.
func (r *PresenceRegistry) Connect(ctx context.Context, userID domain.UserID, conn core.SignalConnection) (domain.ConnID, error) {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, err := r.users.GetUser(ctx, userID); err != nil {
		return "", err
	}
	if err := r.users.SetAvailability(ctx, userID, domain.AvailabilityOnline); err != nil {
		return "", err
	}

	connID := domain.ConnID(uuid.NewString())

	r.mu.Lock()
	prev := r.entries[userID]
	r.entries[userID] = &presenceEntry{
		entry: domain.PresenceEntry{
			UserID:       userID,
			Availability: domain.AvailabilityOnline,
			ConnID:       connID,
			UpdatedAt:    time.Now(),
		},
		conn: conn,
	}
	r.mu.Unlock()

	if prev != nil {
		log.Info().Str("module", "app.presence").Int64("user", int64(userID)).Msg("superseding stale connection")
		prev.conn.Close()
	}
	log.Info().Str("module", "app.presence").Int64("user", int64(userID)).Str("conn", string(connID)).Msg("connected")

	r.notifyFriends(ctx, userID, domain.AvailabilityOnline)
	return connID, nil
}

// SetAvailability updates the user's status, persisting it together
// with the in-memory entry, and fans the change out to accepted
// friends.
func (r *PresenceRegistry) SetAvailability(ctx context.Context, userID domain.UserID, a domain.Availability) error {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if err := r.users.SetAvailability(ctx, userID, a); err != nil {
		return err
	}

	r.mu.Lock()
	e, ok := r.entries[userID]
	if ok {
		e.entry.Availability = a
		e.entry.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		// Connection dropped while the update was in flight. The
		// persisted value stands; friends already saw the offline
		// transition, so there is nothing to announce.
		log.Debug().Str("module", "app.presence").Int64("user", int64(userID)).Msg("availability set without live entry")
		return nil
	}

	log.Info().Str("module", "app.presence").Int64("user", int64(userID)).Str("availability", string(a)).Msg("availability changed")
	r.notifyFriends(ctx, userID, a)
	return nil
}

// Disconnect removes the connection and marks the user offline. A
// connection that was already superseded is a no-op: the newer entry
// owns the user now. Call state is deliberately untouched here so a
// brief network drop mid-call can be recovered.
func (r *PresenceRegistry) Disconnect(ctx context.Context, userID domain.UserID, connID domain.ConnID) {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.entry.ConnID != connID {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	r.mu.Unlock()

	if err := r.users.SetAvailability(ctx, userID, domain.AvailabilityOffline); err != nil {
		log.Error().Err(err).Str("module", "app.presence").Int64("user", int64(userID)).Msg("persist offline failed")
	}
	log.Info().Str("module", "app.presence").Int64("user", int64(userID)).Str("conn", string(connID)).Msg("disconnected")

	r.notifyFriends(ctx, userID, domain.AvailabilityOffline)
}

// Conn returns the live connection for a user, if any.
func (r *PresenceRegistry) Conn(userID domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[userID]; ok {
		return e.conn, true
	}
	return nil, false
}

// Get returns a copy of the presence entry for a user.
func (r *PresenceRegistry) Get(userID domain.UserID) (domain.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[userID]; ok {
		return e.entry, true
	}
	return domain.PresenceEntry{}, false
}

// FriendsOnline reports the presence entries of the user's accepted
// friends that currently hold a live connection.
func (r *PresenceRegistry) FriendsOnline(ctx context.Context, userID domain.UserID) ([]domain.PresenceEntry, error) {
	friends, err := r.users.AcceptedFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PresenceEntry, 0, len(friends))
	for _, fid := range friends {
		if e, ok := r.entries[fid]; ok {
			out = append(out, e.entry)
		}
	}
	return out, nil
}

// Online filters ids down to those with a live connection.
func (r *PresenceRegistry) Online(ids []domain.UserID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.entries[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

type statusPayload struct {
	UserID       domain.UserID       `json:"user_id"`
	Availability domain.Availability `json:"availability"`
}

// notifyFriends delivers a status-changed event to each online accepted
// friend, at least once: notifyCount sends with notifyDelay between
// them. The repeats mitigate delivery loss on an unreliable transport;
// they are a bounded retry, not a correctness requirement, so every
// send failure is ignored.
func (r *PresenceRegistry) notifyFriends(ctx context.Context, userID domain.UserID, a domain.Availability) {
	friends, err := r.users.AcceptedFriendIDs(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Int64("user", int64(userID)).Msg("load friend set failed")
		return
	}
	if len(friends) == 0 {
		return
	}

	out := core.Outbound{
		Type:    core.TypePresence,
		From:    userID,
		Payload: core.MustPayload(statusPayload{UserID: userID, Availability: a}),
	}
	frame, err := core.EncodeOutbound(out)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence event")
		return
	}

	go func() {
		for i := 0; i < r.notifyCount; i++ {
			if i > 0 {
				time.Sleep(r.notifyDelay)
			}
			for _, fid := range friends {
				if conn, ok := r.Conn(fid); ok {
					_ = conn.TrySend(frame)
				}
			}
		}
	}()
}

// Close drops every live connection. Used on process shutdown.
func (r *PresenceRegistry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[domain.UserID]*presenceEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.conn.Close()
	}
}
