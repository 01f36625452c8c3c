package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

func (ctl *Controller) handleCreateRoom(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		Kind     string          `json:"kind"`
		Invitees []domain.UserID `json:"invitees"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad create-room payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	kind, err := domain.ParseRoomKind(p.Kind)
	if err != nil {
		ctl.sendError(c, "bad_room_kind")
		return
	}

	room, err := ctl.Membership.CreateRoom(ctx, from, kind, p.Invitees)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("create room")
		ctl.sendError(c, "store_error")
		return
	}

	ctl.sendJSON(c, core.Outbound{
		Type:    "room-created",
		Payload: core.MustPayload(room),
	})

	for _, uid := range p.Invitees {
		if uid == from {
			continue
		}
		_ = ctl.Relay.SendTo(uid, core.Outbound{
			Type:    core.TypeCallInvite,
			From:    from,
			Payload: core.MustPayload(room),
		})
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	if _, err := ctl.Membership.Join(ctx, roomID, from); err != nil {
		if errors.Is(err, domain.ErrNotInvited) {
			ctl.sendError(c, "not_invited")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("join")
		ctl.sendError(c, "store_error")
		return
	}

	log.Info().Str("module", "signal").Int64("user", int64(from)).Str("room", string(roomID)).Msg("join")
	ctl.sendRoomState(ctx, c, roomID)

	ctl.Relay.BroadcastRoom(ctx, roomID, from, core.Outbound{
		Type: core.TypeMemberJoined,
		From: from,
	})
}

func (ctl *Controller) handleLeave(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		RoomID    string `json:"room_id"`
		Permanent bool   `json:"permanent"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)

	mode := domain.LeaveSoft
	if p.Permanent {
		mode = domain.LeaveHard
	}
	if err := ctl.Membership.Leave(ctx, roomID, from, mode); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("leave")
		ctl.sendError(c, "store_error")
		return
	}

	ctl.sendJSON(c, core.Outbound{Type: "left"})
	ctl.Relay.BroadcastRoom(ctx, roomID, from, core.Outbound{
		Type: core.TypeMemberLeft,
		From: from,
	})
}

func (ctl *Controller) handleRoomState(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.sendRoomState(ctx, c, domain.RoomID(p.RoomID))
}

func (ctl *Controller) sendRoomState(ctx context.Context, c *wsSignalConn, roomID domain.RoomID) {
	members, err := ctl.Membership.RoomState(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("room state")
		ctl.sendError(c, "store_error")
		return
	}
	ctl.sendJSON(c, core.Outbound{
		Type: core.TypeRoomState,
		Payload: core.MustPayload(struct {
			RoomID  domain.RoomID       `json:"room_id"`
			Members []domain.RoomMember `json:"members"`
			Count   int                 `json:"count"`
		}{RoomID: roomID, Members: members, Count: len(members)}),
	})
}
