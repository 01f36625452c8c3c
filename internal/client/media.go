// Package client is the session orchestrator a caller embeds: it owns
// one PeerSession per remote participant and drives media negotiation
// from relayed signal messages.
package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ConnState mirrors the media connection lifecycle without exposing
// the transport's own types to the session state machine.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// Candidate is one ICE candidate on the wire.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// MediaTransport is the opaque media capability: establish a session
// given a remote description, emit track events, report state
// transitions. Everything below the SDP exchange is delegated to it.
type MediaTransport interface {
	// CreateOffer returns a local offer; iceRestart requests new
	// credentials to recover a failed transport without a full rebuild.
	CreateOffer(iceRestart bool) (string, error)
	// AcceptAnswer applies the remote answer to a pending local offer.
	AcceptAnswer(sdp string) error
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(sdp string) (string, error)
	AddRemoteCandidate(c Candidate) error
	OnLocalCandidate(func(Candidate))
	OnStateChange(func(ConnState))
	OnRemoteTrack(func())
	// SetLocalMedia toggles local capture without renegotiating.
	SetLocalMedia(enabled bool) error
	Close()
}

// TransportFactory builds a fresh transport for a session, including
// the rebuild during a full renegotiation.
type TransportFactory func() (MediaTransport, error)

func defaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// rtcTransport adapts a webrtc.PeerConnection to MediaTransport.
type rtcTransport struct {
	pc         *webrtc.PeerConnection
	localTrack *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender

	mu      sync.Mutex
	onICE   func(Candidate)
	onState func(ConnState)
	onTrack func()
}

// NewRTCTransport is the default TransportFactory.
func NewRTCTransport() (MediaTransport, error) {
	pc, err := webrtc.NewPeerConnection(defaultRTCConfig())
	if err != nil {
		return nil, err
	}
	localTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "callbridge",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(localTrack)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	t := &rtcTransport{pc: pc, localTrack: localTrack, sender: sender}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			ci := cand.ToJSON()
			out := Candidate{Candidate: ci.Candidate}
			if ci.SDPMid != nil {
				out.SDPMid = *ci.SDPMid
			}
			if ci.SDPMLineIndex != nil {
				out.SDPMLineIndex = *ci.SDPMLineIndex
			}
			fn(out)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(mapPeerState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "client.rtc").
			Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	return t, nil
}

func mapPeerState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}

func (t *rtcTransport) CreateOffer(iceRestart bool) (string, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	<-gatherComplete
	return t.pc.LocalDescription().SDP, nil
}

func (t *rtcTransport) AcceptAnswer(sdp string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (t *rtcTransport) AcceptOffer(sdp string) (string, error) {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return "", err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gatherComplete
	return t.pc.LocalDescription().SDP, nil
}

func (t *rtcTransport) AddRemoteCandidate(c Candidate) error {
	ci := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		ci.SDPMid = &c.SDPMid
	}
	ci.SDPMLineIndex = &c.SDPMLineIndex
	return t.pc.AddICECandidate(ci)
}

func (t *rtcTransport) OnLocalCandidate(fn func(Candidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *rtcTransport) OnStateChange(fn func(ConnState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *rtcTransport) OnRemoteTrack(fn func()) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

// SetLocalMedia swaps the outgoing track in and out of the sender.
// The transport keeps running while the participant is away, so
// coming back needs no renegotiation.
func (t *rtcTransport) SetLocalMedia(enabled bool) error {
	if t.sender == nil {
		return errors.New("no audio sender")
	}
	if enabled {
		return t.sender.ReplaceTrack(t.localTrack)
	}
	return t.sender.ReplaceTrack(nil)
}

func (t *rtcTransport) Close() {
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Msg("close error")
	}
}
