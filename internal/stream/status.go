package stream

import (
	"time"

	"github.com/signalsfoundry/sattrack/model"
)

// ConnState is the externally visible connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is the connection status published to observers. It is independent
// of snapshot freshness: a client can be Connected before any message has
// arrived.
type Status struct {
	State ConnState
	// LastError is the most recent transport or parse failure, cleared by a
	// successful open or a successfully parsed message.
	LastError string
	// Attempt counts consecutive failed or closed connections since the last
	// successful open.
	Attempt int
	// Since is when State last changed.
	Since time.Time
}

// Observer receives pushes from a Client. Callbacks run on the loop goroutine
// and must treat their arguments as read-only.
type Observer interface {
	StatusChanged(Status)
	SnapshotReceived(model.Snapshot)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStatus   func(Status)
	OnSnapshot func(model.Snapshot)
}

func (o ObserverFuncs) StatusChanged(s Status) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}

func (o ObserverFuncs) SnapshotReceived(snap model.Snapshot) {
	if o.OnSnapshot != nil {
		o.OnSnapshot(snap)
	}
}
