package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

var errNotReady = errors.New("signaling state not ready for offer")

// SendFunc delivers one envelope to the signaling server.
type SendFunc func(core.Envelope) error

const (
	offerRetryMax   = 5
	offerRetryDelay = 200 * time.Millisecond
)

// Orchestrator manages the media session lifecycle toward every remote
// participant: negotiation, reconnection, renegotiation and duplicate
// suppression. It talks to its UI consumer through one typed event
// channel.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*PeerSession

	factory        TransportFactory
	send           SendFunc
	events         chan Event
	renegotiateMax int
	failDelay      time.Duration
}

func NewOrchestrator(factory TransportFactory, send SendFunc, renegotiateMax int) *Orchestrator {
	if renegotiateMax < 1 {
		renegotiateMax = 1
	}
	return &Orchestrator{
		sessions:       make(map[domain.UserID]*PeerSession),
		factory:        factory,
		send:           send,
		events:         make(chan Event, 16),
		renegotiateMax: renegotiateMax,
		failDelay:      2 * time.Second,
	}
}

func (o *Orchestrator) session(peer domain.UserID) (*PeerSession, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[peer]
	return s, ok
}

// Events is the channel the UI consumer drains.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		log.Warn().Str("module", "client.orch").Str("kind", string(e.Kind)).Msg("event dropped, consumer slow")
	}
}

// Session returns the live session toward a peer, if any.
func (o *Orchestrator) Session(peer domain.UserID) (*PeerSession, bool) {
	return o.session(peer)
}

func (o *Orchestrator) getOrCreateSession(peer domain.UserID) (*PeerSession, error) {
	if s, ok := o.session(peer); ok {
		return s, nil
	}
	transport, err := o.factory()
	if err != nil {
		return nil, err
	}
	s := newPeerSession(peer, transport)
	o.wireTransport(s, transport)

	o.mu.Lock()
	if existing, ok := o.sessions[peer]; ok {
		o.mu.Unlock()
		transport.Close()
		return existing, nil
	}
	o.sessions[peer] = s
	o.mu.Unlock()

	log.Info().Str("module", "client.orch").Int64("peer", int64(peer)).Msg("session created")
	return s, nil
}

func (o *Orchestrator) wireTransport(s *PeerSession, transport MediaTransport) {
	peer := s.remoteID
	transport.OnLocalCandidate(func(c Candidate) {
		_ = o.send(core.Envelope{
			Type:    core.TypeICECandidate,
			To:      peer,
			Payload: core.MustPayload(c),
		})
	})
	transport.OnRemoteTrack(func() {
		s.mu.Lock()
		s.hasRemoteMedia = true
		s.mu.Unlock()
		o.emit(Event{Kind: EventRemoteTrack, Peer: peer})
	})
	transport.OnStateChange(func(st ConnState) {
		o.onConnState(s, st)
	})
}

// StartCall initiates a call: the invite goes out and the media offer
// follows once the peer accepts.
func (o *Orchestrator) StartCall(peer domain.UserID, roomID domain.RoomID) error {
	var payload json.RawMessage
	if roomID != "" {
		payload = core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: roomID})
	}
	return o.send(core.Envelope{Type: core.TypeCallInvite, To: peer, Payload: payload})
}

// AcceptCall answers an incoming invite and prepares the session that
// will receive the caller's offer.
func (o *Orchestrator) AcceptCall(peer domain.UserID, roomID domain.RoomID) error {
	s, err := o.getOrCreateSession(peer)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
	if err := s.setLocalMedia(true); err != nil {
		return err
	}
	return o.send(core.Envelope{
		Type: core.TypeCallAccept,
		To:   peer,
		Payload: core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: roomID}),
	})
}

// initiateMedia creates the session in offer-sent, requests local
// media, and sends the offer.
func (o *Orchestrator) initiateMedia(peer domain.UserID, iceRestart bool) error {
	s, err := o.getOrCreateSession(peer)
	if err != nil {
		return err
	}
	if !iceRestart {
		if err := s.setLocalMedia(true); err != nil {
			return err
		}
	}

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	offer, err := transport.CreateOffer(iceRestart)
	if err != nil {
		return err
	}
	s.markOfferSent()
	return o.send(core.Envelope{
		Type: core.TypeMediaOffer,
		To:   peer,
		Payload: core.MustPayload(struct {
			SDP string `json:"sdp"`
		}{SDP: offer}),
	})
}

// HandleMessage consumes one relayed message from the control
// connection. Unknown kinds are ignored; consumers must tolerate any
// cross-user ordering, so everything here is either idempotent or
// sequence-checked.
func (o *Orchestrator) HandleMessage(out core.Outbound) {
	switch out.Type {
	case core.TypeCallInvite:
		o.onCallInvite(out)
	case core.TypeCallAccept:
		o.onCallAccept(out)
	case core.TypeCallReject, core.TypeCallEnd:
		o.onCallEnd(out)
	case core.TypeCallRestored, core.TypeRestoreCall:
		o.onCallRestored(out)
	case core.TypeMediaOffer:
		o.onOffer(out)
	case core.TypeMediaAnswer:
		o.onAnswer(out)
	case core.TypeICECandidate:
		o.onCandidate(out)
	default:
	}
}

func (o *Orchestrator) onCallInvite(out core.Outbound) {
	if s, ok := o.session(out.From); ok && !s.checkSeq(out.Seq) {
		return
	}
	var p struct {
		RoomID domain.RoomID `json:"room_id"`
	}
	_ = json.Unmarshal(out.Payload, &p)
	o.emit(Event{Kind: EventIncomingCall, Peer: out.From, Room: p.RoomID})
	if s, ok := o.session(out.From); ok {
		s.mu.Lock()
		s.roomID = p.RoomID
		s.mu.Unlock()
	}
}

func (o *Orchestrator) onCallAccept(out core.Outbound) {
	if s, ok := o.session(out.From); ok && !s.checkSeq(out.Seq) {
		log.Debug().Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("stale call-accept dropped")
		return
	}
	if err := o.initiateMedia(out.From, false); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("initiate media")
		o.emit(Event{Kind: EventCallFailed, Peer: out.From, Err: err})
	}
}

func (o *Orchestrator) onCallEnd(out core.Outbound) {
	s, ok := o.session(out.From)
	if !ok {
		return
	}
	if !s.checkSeq(out.Seq) {
		log.Debug().Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("stale call-end dropped")
		return
	}
	o.destroySession(out.From)
	o.emit(Event{Kind: EventCallEnded, Peer: out.From})
}

func (o *Orchestrator) onCallRestored(out core.Outbound) {
	o.emit(Event{Kind: EventCallRestored, Peer: out.From})
	if s, ok := o.session(out.From); ok {
		s.mu.Lock()
		absent := s.absent
		s.mu.Unlock()
		if absent {
			_ = o.RejoinCall(out.From)
		}
		return
	}
	// No surviving session: the transport died with the process or the
	// page. Negotiate from scratch.
	if err := o.initiateMedia(out.From, false); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("restore media")
	}
}

// onOffer processes a remote offer, deferring while the session is
// mid-answer. The deferral is a bounded wait-and-retry, not a perfect
// negotiation rollback.
func (o *Orchestrator) onOffer(out core.Outbound) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(out.Payload, &p); err != nil || p.SDP == "" {
		return
	}
	s, err := o.getOrCreateSession(out.From)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Msg("session for offer")
		return
	}

	go func() {
		for attempt := 0; ; attempt++ {
			if s.canAcceptOffer() {
				break
			}
			if attempt >= offerRetryMax {
				log.Warn().Str("module", "client.orch").
					Int64("peer", int64(out.From)).Msg("offer dropped, session never settled")
				return
			}
			time.Sleep(offerRetryDelay)
		}

		answer, err := s.acceptOffer(p.SDP)
		if err != nil {
			log.Error().Err(err).Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("accept offer")
			return
		}
		_ = o.send(core.Envelope{
			Type: core.TypeMediaAnswer,
			To:   out.From,
			Payload: core.MustPayload(struct {
				SDP string `json:"sdp"`
			}{SDP: answer}),
		})
	}()
}

func (o *Orchestrator) onAnswer(out core.Outbound) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(out.Payload, &p); err != nil || p.SDP == "" {
		return
	}
	s, ok := o.session(out.From)
	if !ok {
		return
	}
	applied, err := s.applyAnswer(p.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("apply answer")
		return
	}
	if !applied {
		log.Debug().Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("duplicate answer ignored")
	}
}

func (o *Orchestrator) onCandidate(out core.Outbound) {
	var c Candidate
	if err := json.Unmarshal(out.Payload, &c); err != nil {
		return
	}
	s, ok := o.session(out.From)
	if !ok {
		return
	}
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if err := transport.AddRemoteCandidate(c); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Int64("peer", int64(out.From)).Msg("add candidate")
	}
}

// onConnState drives failure recovery: one ICE restart, then — if the
// transport is still failed after a short delay — a full teardown and
// renegotiation, bounded by the retry ceiling.
func (o *Orchestrator) onConnState(s *PeerSession, st ConnState) {
	peer := s.remoteID
	s.setConnState(st)

	switch st {
	case ConnConnected:
		o.emit(Event{Kind: EventPeerConnected, Peer: peer})
	case ConnDisconnected:
		o.emit(Event{Kind: EventPeerDisconnected, Peer: peer})
	case ConnFailed:
		s.mu.Lock()
		restartTried := s.restartTried
		s.restartTried = true
		s.mu.Unlock()

		if !restartTried {
			log.Warn().Str("module", "client.orch").Int64("peer", int64(peer)).Msg("transport failed, trying ICE restart")
			if err := o.initiateMedia(peer, true); err != nil {
				log.Error().Err(err).Str("module", "client.orch").Msg("ice restart offer")
			}
			time.AfterFunc(o.failDelay, func() {
				if s.ConnState() == ConnFailed {
					o.renegotiate(s)
				}
			})
			return
		}
		o.renegotiate(s)
	}
}

// renegotiate tears the transport down and rebuilds the session from
// scratch. Past the ceiling the failure is fatal and surfaced to the
// UI consumer.
func (o *Orchestrator) renegotiate(s *PeerSession) {
	peer := s.remoteID

	s.mu.Lock()
	s.renegotiations++
	count := s.renegotiations
	oldTransport := s.transport
	hadLocal := s.hasLocalMedia
	s.mu.Unlock()

	if count > o.renegotiateMax {
		log.Error().Str("module", "client.orch").Int64("peer", int64(peer)).
			Int("attempts", count-1).Msg("renegotiation ceiling reached")
		o.destroySession(peer)
		o.emit(Event{Kind: EventCallFailed, Peer: peer, Err: domain.ErrRenegotiationFailed})
		return
	}

	log.Warn().Str("module", "client.orch").Int64("peer", int64(peer)).
		Int("attempt", count).Msg("full renegotiation")

	transport, err := o.factory()
	if err != nil {
		o.destroySession(peer)
		o.emit(Event{Kind: EventCallFailed, Peer: peer, Err: err})
		return
	}
	oldTransport.Close()

	s.mu.Lock()
	s.transport = transport
	s.signaling = SignalingStable
	s.conn = ConnNew
	s.restartTried = false
	s.mu.Unlock()
	o.wireTransport(s, transport)

	if hadLocal {
		if err := s.setLocalMedia(true); err != nil {
			log.Error().Err(err).Str("module", "client.orch").Msg("restore local media")
		}
	}

	offer, err := transport.CreateOffer(false)
	if err != nil {
		o.destroySession(peer)
		o.emit(Event{Kind: EventCallFailed, Peer: peer, Err: err})
		return
	}
	s.markOfferSent()
	_ = o.send(core.Envelope{
		Type: core.TypeMediaOffer,
		To:   peer,
		Payload: core.MustPayload(struct {
			SDP string `json:"sdp"`
		}{SDP: offer}),
	})
}

// LeaveCall does not destroy the session: local capture stops and the
// participant is flagged absent, keeping transport alive for rejoin.
func (o *Orchestrator) LeaveCall(peer domain.UserID) error {
	s, ok := o.session(peer)
	if !ok {
		return nil
	}
	if err := s.setLocalMedia(false); err != nil {
		return err
	}
	s.mu.Lock()
	s.absent = true
	s.mu.Unlock()
	return nil
}

// RejoinCall restarts local capture on the surviving session.
func (o *Orchestrator) RejoinCall(peer domain.UserID) error {
	s, ok := o.session(peer)
	if !ok {
		return errors.New("no session to rejoin")
	}
	if err := s.setLocalMedia(true); err != nil {
		return err
	}
	s.mu.Lock()
	s.absent = false
	s.mu.Unlock()
	return nil
}

// EndCall frees the session and tells the peer. The server keeps the
// call slot for the grace window in case either side reconnects.
func (o *Orchestrator) EndCall(peer domain.UserID) error {
	err := o.send(core.Envelope{Type: core.TypeCallEnd, To: peer})
	o.destroySession(peer)
	return err
}

// RestoreCall asks the server to revive a call interrupted by a
// dropped control connection.
func (o *Orchestrator) RestoreCall(roomID domain.RoomID) error {
	var payload json.RawMessage
	if roomID != "" {
		payload = core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: roomID})
	}
	return o.send(core.Envelope{Type: core.TypeRestoreCall, Payload: payload})
}

func (o *Orchestrator) destroySession(peer domain.UserID) {
	o.mu.Lock()
	s, ok := o.sessions[peer]
	if ok {
		delete(o.sessions, peer)
	}
	o.mu.Unlock()
	if ok {
		s.close()
	}
}

// Close tears down every session.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sessions := o.sessions
	o.sessions = make(map[domain.UserID]*PeerSession)
	o.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
