package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

func (ctl *Controller) handleCallInvite(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	if env.To == 0 || env.To == from {
		ctl.sendError(c, "bad_payload")
		return
	}
	if !ctl.Invites.Allow(from) {
		ctl.sendError(c, "rate_limited")
		return
	}

	// An already-running call with this peer is rejoined, never
	// duplicated.
	if entry, ok := ctl.Calls.CheckActive(from, env.To); ok {
		log.Info().Str("module", "signal").
			Int64("caller", int64(from)).Int64("callee", int64(env.To)).Msg("invite into active call, rejoining")
		ctl.sendJSON(c, core.Outbound{
			Type:    core.TypeCallRestored,
			From:    env.To,
			Payload: core.MustPayload(entry),
		})
		return
	}

	var p struct {
		RoomID string `json:"room_id"`
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			ctl.sendError(c, "bad_payload")
			return
		}
	}

	roomID := domain.RoomID(p.RoomID)
	if roomID == "" {
		room, err := ctl.Membership.CreateRoom(ctx, from, domain.RoomDirect, []domain.UserID{env.To})
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("direct room for call")
			ctl.sendError(c, "store_error")
			return
		}
		roomID = room.ID
	} else if err := ctl.Membership.CallInvite(ctx, roomID, env.To); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("call invite membership")
		ctl.sendError(c, "store_error")
		return
	}

	ctl.Calls.StartCall(from, env.To, roomID)

	seq := ctl.Calls.NextSeq(from, env.To)
	_ = ctl.Relay.SendTo(env.To, core.Outbound{
		Type: core.TypeCallInvite,
		From: from,
		Seq:  seq,
		Payload: core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: roomID}),
	})

	ctl.sendJSON(c, core.Outbound{
		Type: "call-pending",
		Payload: core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: roomID}),
	})
}

func (ctl *Controller) handleCallAccept(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" || env.To == 0 {
		ctl.sendError(c, "bad_payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	if err := ctl.Membership.CallAccept(ctx, roomID, from); err != nil {
		if errors.Is(err, domain.ErrNotInvited) {
			ctl.sendError(c, "not_invited")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("call accept membership")
		ctl.sendError(c, "store_error")
		return
	}

	seq := ctl.Calls.NextSeq(from, env.To)
	_ = ctl.Relay.SendTo(env.To, core.Outbound{
		Type: core.TypeCallAccept,
		From: from,
		Seq:  seq,
		Payload: core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: roomID}),
	})

	// Advisory: consumers may observe this before or after the
	// point-to-point accept; the room-state snapshot is authoritative.
	ctl.Relay.BroadcastRoom(ctx, roomID, from, core.Outbound{
		Type: core.TypeMemberJoined,
		From: from,
	})
}

func (ctl *Controller) handleCallReject(ctx context.Context, from domain.UserID, env core.Envelope) {
	if env.To == 0 {
		return
	}
	ctl.Calls.Clear(from, env.To)
	_ = ctl.Relay.SendTo(env.To, core.Outbound{
		Type:    core.TypeCallReject,
		From:    from,
		Seq:     ctl.Calls.NextSeq(from, env.To),
		Payload: env.Payload,
	})
}

// handleCallEnd starts the grace window instead of clearing the pair:
// the entries survive so a reconnecting peer can restore the call.
func (ctl *Controller) handleCallEnd(ctx context.Context, from domain.UserID, env core.Envelope) {
	if env.To == 0 {
		return
	}
	seq := ctl.Calls.NextSeq(from, env.To)
	ctl.Calls.ScheduleExpiry(from, env.To)
	_ = ctl.Relay.SendTo(env.To, core.Outbound{
		Type:    core.TypeCallEnd,
		From:    from,
		Seq:     seq,
		Payload: env.Payload,
	})
}

func (ctl *Controller) handleRestoreCall(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			ctl.sendError(c, "bad_payload")
			return
		}
	}

	entry, ok := ctl.Calls.Active(from)
	if !ok || (p.RoomID != "" && entry.RoomID != domain.RoomID(p.RoomID)) {
		ctl.sendError(c, "no_active_call")
		return
	}

	restored, ok := ctl.Calls.Restore(from, entry.PeerID)
	if !ok {
		ctl.sendError(c, "no_active_call")
		return
	}

	ctl.sendJSON(c, core.Outbound{
		Type:    core.TypeCallRestored,
		From:    entry.PeerID,
		Seq:     ctl.Calls.NextSeq(from, entry.PeerID),
		Payload: core.MustPayload(restored),
	})

	// Tell the peer so its side restarts media toward us.
	_ = ctl.Relay.SendTo(entry.PeerID, core.Outbound{
		Type: core.TypeRestoreCall,
		From: from,
		Payload: core.MustPayload(struct {
			RoomID domain.RoomID `json:"room_id"`
		}{RoomID: restored.RoomID}),
	})
}

// handleForward relays media negotiation messages verbatim. No call
// state is validated here: the relay is a dumb forwarder and a missing
// recipient is a silent drop.
func (ctl *Controller) handleForward(from domain.UserID, env core.Envelope) {
	if env.To == 0 {
		return
	}
	_ = ctl.Relay.SendTo(env.To, core.Outbound{
		Type:    env.Type,
		From:    from,
		Payload: env.Payload,
	})
}

func (ctl *Controller) handleSpeaking(ctx context.Context, from domain.UserID, env core.Envelope) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
		return
	}
	ctl.Relay.BroadcastRoom(ctx, domain.RoomID(p.RoomID), from, core.Outbound{
		Type: env.Type,
		From: from,
	})
}
