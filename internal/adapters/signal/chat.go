package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/parley/internal/app/orch"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

// Rate limiter buckets.
const (
	kindChat    = "chat"
	kindTyping  = "typing"
	kindPrivate = "private"
)

type typingPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	IsTyping bool          `json:"isTyping"`
}

type privateMessagePayload struct {
	RecipientID domain.UserID `json:"recipientId"`
	Content     string        `json:"content"`
}

func (ctl *SignalWSController) handleSendMessage(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var req orch.SendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := requireRoom(req.RoomID); err != nil {
		return err
	}
	if err := ctl.allow(sid, kindChat); err != nil {
		return err
	}
	return ctl.Orch.SendMessage(ctx, sid, req)
}

func (ctl *SignalWSController) handleTyping(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p typingPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	// typing bursts are dropped quietly
	if ctl.allow(sid, kindTyping) != nil {
		return nil
	}
	return ctl.Orch.Typing(ctx, sid, p.RoomID, p.IsTyping)
}

func (ctl *SignalWSController) handlePrivateMessage(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p privateMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RecipientID == "" {
		return fmt.Errorf("%w: recipientId is required", domain.ErrBadRequest)
	}
	if err := ctl.allow(sid, kindPrivate); err != nil {
		return err
	}
	return ctl.Orch.PrivateMessage(ctx, sid, p.RecipientID, p.Content)
}
