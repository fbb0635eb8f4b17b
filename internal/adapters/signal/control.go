package signal

import "github.com/dkeye/parley/internal/core"

func (ctl *SignalWSController) handlePing(sid core.SessionID) {
	ctl.Orch.Pong(sid)
}
