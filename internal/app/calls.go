package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/domain"
)

// pairKey orders the two user ids so both directions of a call map to
// the same key for timers and sequence numbers.
type pairKey struct {
	lo, hi domain.UserID
}

func newPairKey(a, b domain.UserID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// CallRegistry is the ephemeral in-memory pairing of users currently
// engaged in a call, independent of persisted membership. It never
// blocks on the persisted store: persisted membership and this pairing
// are reconciled by relayed events, which keeps signaling latency
// independent of storage latency.
type CallRegistry struct {
	mu      sync.RWMutex
	entries map[domain.UserID]domain.ActiveCall
	timers  map[pairKey]*time.Timer
	seqs    map[pairKey]uint64

	grace  time.Duration
	closed bool
}

func NewCallRegistry(grace time.Duration) *CallRegistry {
	return &CallRegistry{
		entries: make(map[domain.UserID]domain.ActiveCall),
		timers:  make(map[pairKey]*time.Timer),
		seqs:    make(map[pairKey]uint64),
		grace:   grace,
	}
}

// StartCall writes the symmetric entry pair. A pending expiry for the
// pair is canceled: starting over trumps a dying call.
func (c *CallRegistry) StartCall(callerID, calleeID domain.UserID, roomID domain.RoomID) {
	now := time.Now()
	key := newPairKey(callerID, calleeID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked(key)
	c.entries[callerID] = domain.ActiveCall{OwnerID: callerID, PeerID: calleeID, RoomID: roomID, StartedAt: now}
	c.entries[calleeID] = domain.ActiveCall{OwnerID: calleeID, PeerID: callerID, RoomID: roomID, StartedAt: now}
	log.Info().Str("module", "app.calls").
		Int64("caller", int64(callerID)).Int64("callee", int64(calleeID)).
		Str("room", string(roomID)).Msg("call started")
}

// CheckActive reports the requester's active entry if it pairs with
// candidate. Used on call initiation to rejoin an already-running call
// instead of starting a duplicate one.
func (c *CallRegistry) CheckActive(requesterID, candidateID domain.UserID) (domain.ActiveCall, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[requesterID]
	if !ok || e.PeerID != candidateID {
		return domain.ActiveCall{}, false
	}
	return e, true
}

// Active returns the requester's entry regardless of peer.
func (c *CallRegistry) Active(userID domain.UserID) (domain.ActiveCall, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	return e, ok
}

// ScheduleExpiry starts the grace timer for the pair after an end-call
// signal. Both entries survive until the timer fires; a Restore before
// then cancels it. The timer fires exactly once per pair.
func (c *CallRegistry) ScheduleExpiry(userID, peerID domain.UserID) {
	key := newPairKey(userID, peerID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopTimerLocked(key)
	c.timers[key] = time.AfterFunc(c.grace, func() {
		c.expire(key)
	})
	log.Info().Str("module", "app.calls").
		Int64("user", int64(userID)).Int64("peer", int64(peerID)).
		Dur("grace", c.grace).Msg("expiry scheduled")
}

func (c *CallRegistry) expire(key pairKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, key)
	c.purgePairLocked(key)
	log.Info().Str("module", "app.calls").
		Int64("user", int64(key.lo)).Int64("peer", int64(key.hi)).Msg("grace expired, entries purged")
}

// Restore cancels a pending expiry and re-establishes both entries.
// Returns false when the pair has no surviving call to restore.
func (c *CallRegistry) Restore(userID, peerID domain.UserID) (domain.ActiveCall, bool) {
	key := newPairKey(userID, peerID)

	c.mu.Lock()
	defer c.mu.Unlock()

	own, okOwn := c.entries[userID]
	peer, okPeer := c.entries[peerID]
	if okOwn && own.PeerID != peerID {
		return domain.ActiveCall{}, false
	}
	if okPeer && peer.PeerID != userID {
		return domain.ActiveCall{}, false
	}
	if !okOwn && !okPeer {
		return domain.ActiveCall{}, false
	}

	c.stopTimerLocked(key)

	// Re-establish whichever direction is missing.
	if !okOwn {
		own = domain.ActiveCall{OwnerID: userID, PeerID: peerID, RoomID: peer.RoomID, StartedAt: peer.StartedAt}
		c.entries[userID] = own
	}
	if !okPeer {
		c.entries[peerID] = domain.ActiveCall{OwnerID: peerID, PeerID: userID, RoomID: own.RoomID, StartedAt: own.StartedAt}
	}
	log.Info().Str("module", "app.calls").
		Int64("user", int64(userID)).Int64("peer", int64(peerID)).Msg("call restored")
	return own, true
}

// Clear removes both entries and any pending timer immediately.
func (c *CallRegistry) Clear(userID, peerID domain.UserID) {
	key := newPairKey(userID, peerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked(key)
	c.purgePairLocked(key)
}

// NextSeq hands out the next sequence number for the pair. Envelope
// consumers use it to discard a stale call event that lost a race
// against a newer contradictory one.
func (c *CallRegistry) NextSeq(a, b domain.UserID) uint64 {
	key := newPairKey(a, b)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs[key]++
	return c.seqs[key]
}

func (c *CallRegistry) purgePairLocked(key pairKey) {
	if e, ok := c.entries[key.lo]; ok && e.PeerID == key.hi {
		delete(c.entries, key.lo)
	}
	if e, ok := c.entries[key.hi]; ok && e.PeerID == key.lo {
		delete(c.entries, key.hi)
	}
}

func (c *CallRegistry) stopTimerLocked(key pairKey) {
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

// Close stops all grace timers. Entries are left to die with the
// process.
func (c *CallRegistry) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
}
