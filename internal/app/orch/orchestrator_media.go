package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards a voice-signaling payload. Without a target it reaches every other
// participant of the room; with one it reaches only that user, who must be in the
// same room.
func (o *Orchestrator) Relay(_ context.Context, sid core.SessionID, req RelayRequest) error {
	uid, err := o.identify(sid)
	if err != nil {
		return err
	}
	switch req.Kind {
	case app.EventVoiceOffer, app.EventVoiceAnswer, app.EventICECandidate:
	default:
		return fmt.Errorf("%w: unknown signal %q", domain.ErrBadRequest, req.Kind)
	}
	if cur, ok := o.Registry.RoomOf(sid); !ok || cur != req.RoomID {
		return domain.ErrNotInRoom
	}

	ev := app.Event{Type: req.Kind, Data: signalPayload{RoomID: req.RoomID, From: uid, Payload: req.Payload}}
	if req.TargetUserID == "" {
		res := o.Router.ToRoomExcept(req.RoomID, sid, ev)
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("kind", req.Kind).Int("sent_to", res.SendTo).Msg("signal relayed")
		return nil
	}

	target, ok := o.Registry.LookupConnection(req.TargetUserID)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if room, ok := o.Registry.RoomOf(target); !ok || room != req.RoomID {
		return domain.ErrParticipantNotFound
	}
	o.Router.ToSession(target, ev)
	return nil
}
