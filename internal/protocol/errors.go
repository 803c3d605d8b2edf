package protocol

import "fmt"

type ErrorCode string

const (
	CodeRoomNotFound    ErrorCode = "ROOM_NOT_FOUND"
	CodePlayerNotInRoom ErrorCode = "PLAYER_NOT_IN_ROOM"
	CodeInvalidState    ErrorCode = "INVALID_STATE"
	CodeDeckEmpty       ErrorCode = "DECK_EMPTY"
	CodeUnknown         ErrorCode = "UNKNOWN"
)

// Policy is how a client reacts to an authority error.
type Policy int

const (
	// PolicyResync silently asks for a full state.
	PolicyResync Policy = iota
	// PolicyOffline drops the connection without retrying.
	PolicyOffline
	// PolicyNotify surfaces the error and keeps the connection.
	PolicyNotify
	// PolicyReconnect drops the connection and retries under backoff.
	PolicyReconnect
)

func (p Policy) String() string {
	switch p {
	case PolicyResync:
		return "resync"
	case PolicyOffline:
		return "offline"
	case PolicyNotify:
		return "notify"
	case PolicyReconnect:
		return "reconnect"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

func (c ErrorCode) Policy() Policy {
	switch c {
	case CodeInvalidState:
		return PolicyResync
	case CodeRoomNotFound, CodePlayerNotInRoom:
		return PolicyOffline
	case CodeDeckEmpty:
		return PolicyNotify
	default:
		return PolicyReconnect
	}
}

// Error is the authority's error frame. It doubles as a Go error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
