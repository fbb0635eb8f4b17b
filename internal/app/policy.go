package app

import (
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	Disconnect
)

// Policy decides what happens to a connection whose outbound queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, uid domain.UserID) BackpressureAction
}

// DisconnectPolicy closes slow consumers; their read loop then cleans up membership.
type DisconnectPolicy struct{}

func (DisconnectPolicy) OnBackPressure(core.SessionID, domain.UserID) BackpressureAction {
	return Disconnect
}

// DropPolicy keeps slow consumers connected and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.SessionID, domain.UserID) BackpressureAction {
	return DropFrame
}

// PolicyByName maps the configured backpressure mode to a Policy.
func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return DisconnectPolicy{}
}
