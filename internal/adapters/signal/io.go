package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const disconnectTimeout = 10 * time.Second

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.settings.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.settings.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the connection: when it returns the connection is gone and the
// disconnect path runs.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, id app.Identity, c *WsSignalConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		cancel()
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		ctl.Orch.Disconnect(dctx, sid)
		dcancel()
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(id.UserID)
		}
	}()

	pongWait := ctl.settings.pongWait()
	c.conn.SetReadLimit(ctl.settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		ctl.Orch.Registry.Touch(sid)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.dispatch(ctx, sid, data)
	}
}

// dispatch handles one inbound frame. Every handler error ends up as an error
// event on this connection only.
func (ctl *SignalWSController) dispatch(ctx context.Context, sid core.SessionID, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.Orch.Fail(sid, fmt.Errorf("%w: malformed frame", domain.ErrBadRequest))
		return
	}

	var err error
	switch env.Type {
	case app.EventJoinRoom:
		err = ctl.handleJoin(ctx, sid, env.Data)
	case app.EventLeaveRoom:
		err = ctl.handleLeave(ctx, sid, env.Data)
	case app.EventKickUser:
		err = ctl.handleKick(ctx, sid, env.Data)
	case app.EventUpdateRole:
		err = ctl.handleUpdateRole(ctx, sid, env.Data)
	case app.EventSendMessage:
		err = ctl.handleSendMessage(ctx, sid, env.Data)
	case app.EventTyping:
		err = ctl.handleTyping(ctx, sid, env.Data)
	case app.EventPrivateMessage:
		err = ctl.handlePrivateMessage(ctx, sid, env.Data)
	case app.EventVoiceOffer, app.EventVoiceAnswer, app.EventICECandidate:
		err = ctl.handleVoice(ctx, sid, env.Type, env.Data)
	case app.EventPing:
		ctl.handlePing(sid)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("unknown signal")
		err = fmt.Errorf("%w: unknown event %q", domain.ErrBadRequest, env.Type)
	}
	if err != nil {
		ctl.Orch.Fail(sid, err)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", domain.ErrBadRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data", domain.ErrBadRequest)
	}
	return nil
}

func (ctl *SignalWSController) allow(sid core.SessionID, kind string) error {
	if ctl.Limiter == nil {
		return nil
	}
	uid, ok := ctl.Orch.Registry.UserOf(sid)
	if !ok {
		return domain.ErrUnauthenticated
	}
	if !ctl.Limiter.Allow(uid, kind) {
		return domain.ErrRateLimited
	}
	return nil
}

func requireRoom(id domain.RoomID) error {
	if id == "" {
		return fmt.Errorf("%w: roomId is required", domain.ErrBadRequest)
	}
	return nil
}
