package conn

import (
	"fmt"
	"time"
)

type State int

const (
	Offline State = iota
	Connecting
	Connected
	Reconnecting
	// GaveUp is terminal until Reconnect is called.
	GaveUp
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case GaveUp:
		return "gave-up"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type EventKind int

const (
	// EventState reports a state transition.
	EventState EventKind = iota
	// EventOpen reports an open socket; the owner must now send joinRoom.
	EventOpen
	// EventMessage carries one inbound text frame.
	EventMessage
	// EventGaveUp follows the transition to GaveUp.
	EventGaveUp
)

type Event struct {
	Kind  EventKind
	State State
	// Attempt is the reconnect attempt the state refers to, starting at 1.
	Attempt int
	// Delay is the wait before the next dial when State is Reconnecting.
	Delay time.Duration
	// Resume is set on EventOpen when this room was joined before.
	Resume bool
	Data   []byte
	Err    error
}
