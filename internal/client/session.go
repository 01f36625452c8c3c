package client

import (
	"sync"

	"github.com/avoronov/callbridge/internal/domain"
)

type SignalingState string

const (
	SignalingStable        SignalingState = "stable"
	SignalingOfferSent     SignalingState = "offer-sent"
	SignalingAnswerPending SignalingState = "answer-pending"
)

// PeerSession is the per-remote-participant media session. It is
// created when a call begins and destroyed only when the session fully
// closes — a disconnect or a soft leave keeps it alive so rejoin never
// renegotiates transport from zero.
type PeerSession struct {
	remoteID domain.UserID

	mu             sync.Mutex
	roomID         domain.RoomID
	signaling      SignalingState
	conn           ConnState
	hasLocalMedia  bool
	hasRemoteMedia bool
	absent         bool
	restartTried   bool
	renegotiations int
	lastSeq        uint64
	transport      MediaTransport
}

func newPeerSession(remoteID domain.UserID, transport MediaTransport) *PeerSession {
	return &PeerSession{
		remoteID:  remoteID,
		signaling: SignalingStable,
		conn:      ConnNew,
		transport: transport,
	}
}

func (s *PeerSession) RemoteID() domain.UserID { return s.remoteID }

func (s *PeerSession) SignalingState() SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaling
}

func (s *PeerSession) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *PeerSession) HasRemoteMedia() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasRemoteMedia
}

func (s *PeerSession) Absent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.absent
}

// checkSeq admits a call event only if it is not older than the last
// applied one for this peer. Seq zero means unsequenced and always
// passes.
func (s *PeerSession) checkSeq(seq uint64) bool {
	if seq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

// applyAnswer applies a remote answer. A duplicate — the session is
// already stable — is silently ignored: answers may arrive more than
// once over an unreliable relay, and applying one twice must be a
// no-op.
func (s *PeerSession) applyAnswer(sdp string) (applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaling == SignalingStable {
		return false, nil
	}
	if s.signaling != SignalingOfferSent {
		return false, nil
	}
	if err := s.transport.AcceptAnswer(sdp); err != nil {
		return false, err
	}
	s.signaling = SignalingStable
	return true, nil
}

// canAcceptOffer reports whether a remote offer may be processed now.
// Offers arriving in answer-pending are deferred by the caller with a
// wait-and-retry, not rolled back.
func (s *PeerSession) canAcceptOffer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaling == SignalingStable || s.signaling == SignalingOfferSent
}

// acceptOffer applies a remote offer and produces the local answer.
func (s *PeerSession) acceptOffer(sdp string) (string, error) {
	s.mu.Lock()
	if s.signaling != SignalingStable && s.signaling != SignalingOfferSent {
		s.mu.Unlock()
		return "", errNotReady
	}
	s.signaling = SignalingAnswerPending
	transport := s.transport
	s.mu.Unlock()

	answer, err := transport.AcceptOffer(sdp)

	s.mu.Lock()
	if err != nil {
		s.signaling = SignalingStable
		s.mu.Unlock()
		return "", err
	}
	s.signaling = SignalingStable
	s.mu.Unlock()
	return answer, nil
}

// markOfferSent transitions into offer-sent after a local offer went
// out, including ICE-restart offers.
func (s *PeerSession) markOfferSent() {
	s.mu.Lock()
	s.signaling = SignalingOfferSent
	s.mu.Unlock()
}

func (s *PeerSession) setConnState(st ConnState) {
	s.mu.Lock()
	s.conn = st
	if st == ConnConnected {
		s.restartTried = false
		s.renegotiations = 0
	}
	s.mu.Unlock()
}

func (s *PeerSession) setLocalMedia(enabled bool) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if err := transport.SetLocalMedia(enabled); err != nil {
		return err
	}
	s.mu.Lock()
	s.hasLocalMedia = enabled
	s.mu.Unlock()
	return nil
}

func (s *PeerSession) close() {
	s.mu.Lock()
	transport := s.transport
	s.conn = ConnClosed
	s.mu.Unlock()
	if transport != nil {
		transport.Close()
	}
}
