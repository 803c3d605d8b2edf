package session

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/cardtable-sync/internal/conn"
)

type NoticeKind int

const (
	// NoticeConnection reports a connection state change.
	NoticeConnection NoticeKind = iota
	// NoticeGaveUp is terminal until Reconnect is called.
	NoticeGaveUp
	NoticeJoined
	NoticeTable
	NoticeRoster
	// NoticeDeckEmpty is a rejected deal; the connection stays up.
	NoticeDeckEmpty
	// NoticeQueueOverflow means a proposal queued while offline was dropped.
	NoticeQueueOverflow
	NoticeError
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnection:
		return "connection"
	case NoticeGaveUp:
		return "gave-up"
	case NoticeJoined:
		return "joined"
	case NoticeTable:
		return "table"
	case NoticeRoster:
		return "roster"
	case NoticeDeckEmpty:
		return "deck-empty"
	case NoticeQueueOverflow:
		return "queue-overflow"
	case NoticeError:
		return "error"
	}
	return fmt.Sprintf("NoticeKind(%d)", int(k))
}

// Notice is what the session tells its user interface.
type Notice struct {
	Kind    NoticeKind
	State   conn.State
	Attempt int
	Delay   time.Duration
	Err     error
}
