package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	Password string        `json:"password,omitempty"`
}

type leavePayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type kickPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type updateRolePayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p joinPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).Msg("join")
	return ctl.Orch.Join(ctx, sid, p.RoomID, p.Password)
}

// handleLeave leaves the room; the connection stays open. An empty payload leaves
// whatever room the connection holds.
func (ctl *SignalWSController) handleLeave(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p leavePayload
	if len(data) > 0 {
		if err := decode(data, &p); err != nil {
			return err
		}
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).Msg("leave")
	return ctl.Orch.Leave(ctx, sid, p.RoomID)
}

func (ctl *SignalWSController) handleKick(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p kickPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	return ctl.Orch.Kick(ctx, sid, p.RoomID, p.UserID)
}

func (ctl *SignalWSController) handleUpdateRole(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p updateRolePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	return ctl.Orch.UpdateRole(ctx, sid, p.RoomID, p.UserID, p.Role)
}
