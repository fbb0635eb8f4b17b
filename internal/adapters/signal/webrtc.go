package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/app/orch"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

type voicePayload struct {
	RoomID       domain.RoomID   `json:"roomId"`
	TargetUserID domain.UserID   `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// handleVoice checks that the payload is a real offer, answer or ICE candidate
// before relaying it. The server never terminates media itself.
func (ctl *SignalWSController) handleVoice(ctx context.Context, sid core.SessionID, kind string, data json.RawMessage) error {
	var p voicePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}

	var err error
	switch kind {
	case app.EventVoiceOffer:
		err = validateDescription(p.Payload, webrtc.SDPTypeOffer)
	case app.EventVoiceAnswer:
		err = validateDescription(p.Payload, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer)
	case app.EventICECandidate:
		err = validateCandidate(p.Payload)
	}
	if err != nil {
		return err
	}

	return ctl.Orch.Relay(ctx, sid, orch.RelayRequest{
		Kind:         kind,
		RoomID:       p.RoomID,
		TargetUserID: p.TargetUserID,
		Payload:      p.Payload,
	})
}

func validateDescription(raw json.RawMessage, allowed ...webrtc.SDPType) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing session description", domain.ErrBadRequest)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("%w: malformed session description", domain.ErrBadRequest)
	}
	typeOK := false
	for _, t := range allowed {
		if desc.Type == t {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return fmt.Errorf("%w: unexpected sdp type %q", domain.ErrBadRequest, desc.Type.String())
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: invalid sdp", domain.ErrBadRequest)
	}
	return nil
}

// validateCandidate accepts the empty end-of-candidates marker as well.
func validateCandidate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing candidate", domain.ErrBadRequest)
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("%w: malformed candidate", domain.ErrBadRequest)
	}
	if c.Candidate == "" {
		return nil
	}
	if c.SDPMid == nil && c.SDPMLineIndex == nil {
		return fmt.Errorf("%w: candidate needs sdpMid or sdpMLineIndex", domain.ErrBadRequest)
	}
	if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(c.Candidate, "candidate:")); err != nil {
		return fmt.Errorf("%w: invalid candidate", domain.ErrBadRequest)
	}
	return nil
}
