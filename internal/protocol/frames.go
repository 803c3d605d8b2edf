package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
)

// Frame types.
const (
	TypeJoinRoom         = "joinRoom"
	TypeRequestFullState = "requestFullState"
	TypeResetGame        = "resetGame"
	TypeGameMessage      = "gameMessage"

	TypeRoomJoined   = "roomJoined"
	TypeFullState    = "fullState"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypeGameReset    = "gameReset"
	TypeError        = "error"
)

// GameState is the authority's complete table.
type GameState struct {
	DeckID           string               `json:"deckId"`
	DeckData         deck.Export          `json:"deckData"`
	OriginalDeckSize int                  `json:"originalDeckSize"`
	Cards            map[string]CardState `json:"cards"`
	DiscardPile      []string             `json:"discardPile"`
}

// Identity is stamped on every outgoing frame.
type Identity struct {
	PlayerID   string
	PlayerName string
	RoomCode   string
}

// ClientFrame is the raw shape of everything a client sends.
type ClientFrame struct {
	Type           string    `json:"type"`
	PlayerID       string    `json:"playerId"`
	RoomCode       string    `json:"roomCode"`
	PlayerName     string    `json:"playerName,omitempty"`
	Resume         bool      `json:"resume,omitempty"`
	Timestamp      int64     `json:"timestamp,omitempty"`
	LocalMessageID uint64    `json:"localMessageId,omitempty"`
	Data           *GameData `json:"data,omitempty"`
}

// ServerFrame is the raw shape of everything the authority sends.
type ServerFrame struct {
	Type       string     `json:"type"`
	IsHost     bool       `json:"isHost,omitempty"`
	GameState  *GameState `json:"gameState,omitempty"`
	Players    []Player   `json:"players,omitempty"`
	PlayerID   string     `json:"playerId,omitempty"`
	PlayerName string     `json:"playerName,omitempty"`
	Data       *GameData  `json:"data,omitempty"`
	Code       ErrorCode  `json:"code,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Control messages travel unwrapped.
type Control interface{ controlType() string }

type JoinRoom struct{ Resume bool }
type RequestFullState struct{}
type ResetGame struct{}

func (JoinRoom) controlType() string         { return TypeJoinRoom }
func (RequestFullState) controlType() string { return TypeRequestFullState }
func (ResetGame) controlType() string        { return TypeResetGame }

// EncodeControl stamps identity fields directly on a control frame.
func EncodeControl(c Control, id Identity) ([]byte, error) {
	f := ClientFrame{Type: c.controlType(), PlayerID: id.PlayerID, RoomCode: id.RoomCode}
	if j, ok := c.(JoinRoom); ok {
		f.PlayerName = id.PlayerName
		f.Resume = j.Resume
	}
	return json.Marshal(f)
}

// EncodeGameFrame wraps a payload in the game envelope.
func EncodeGameFrame(g Game, id Identity, localID uint64, ts int64) ([]byte, error) {
	gd, err := EncodeGame(g)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ClientFrame{
		Type:           TypeGameMessage,
		PlayerID:       id.PlayerID,
		RoomCode:       id.RoomCode,
		Timestamp:      ts,
		LocalMessageID: localID,
		Data:           &gd,
	})
}

// Inbound is the closed set of messages a client can receive.
type Inbound interface{ isInbound() }

type RoomJoined struct {
	IsHost    bool
	GameState *GameState
	Players   []Player
}

type FullState struct {
	GameState GameState
	Players   []Player
}

type PlayerJoined struct{ Player Player }

type PlayerLeft struct{ PlayerID string }

type GameMessage struct {
	Payload   Game
	SentBy    string
	Timestamp int64
}

type GameReset struct{ GameState *GameState }

type ErrorMessage struct{ Err *Error }

func (RoomJoined) isInbound()   {}
func (FullState) isInbound()    {}
func (PlayerJoined) isInbound() {}
func (PlayerLeft) isInbound()   {}
func (GameMessage) isInbound()  {}
func (GameReset) isInbound()    {}
func (ErrorMessage) isInbound() {}

// DecodeServer validates a frame from the authority. Unknown types wrap
// ErrUnknownType so callers can ignore them.
func DecodeServer(b []byte) (Inbound, error) {
	var f ServerFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch f.Type {
	case TypeRoomJoined:
		return RoomJoined{IsHost: f.IsHost, GameState: f.GameState, Players: f.Players}, nil
	case TypeFullState:
		if f.GameState == nil {
			return nil, fmt.Errorf("%w: fullState without gameState", ErrInvalidPayload)
		}
		return FullState{GameState: *f.GameState, Players: f.Players}, nil
	case TypePlayerJoined:
		if f.PlayerID == "" {
			return nil, fmt.Errorf("%w: playerJoined without playerId", ErrInvalidPayload)
		}
		return PlayerJoined{Player: Player{PlayerID: f.PlayerID, PlayerName: f.PlayerName}}, nil
	case TypePlayerLeft:
		if f.PlayerID == "" {
			return nil, fmt.Errorf("%w: playerLeft without playerId", ErrInvalidPayload)
		}
		return PlayerLeft{PlayerID: f.PlayerID}, nil
	case TypeGameMessage:
		if f.Data == nil {
			return nil, fmt.Errorf("%w: gameMessage without data", ErrInvalidPayload)
		}
		g, err := DecodeGame(*f.Data)
		if err != nil {
			return nil, err
		}
		return GameMessage{Payload: g, SentBy: f.Data.SentBy, Timestamp: f.Data.Timestamp}, nil
	case TypeGameReset:
		return GameReset{GameState: f.GameState}, nil
	case TypeError:
		code := f.Code
		if code == "" {
			code = CodeUnknown
		}
		return ErrorMessage{Err: &Error{Code: code, Message: f.Message}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

// ClientMessage is the closed set the authority accepts.
type ClientMessage interface{ isClientMessage() }

type JoinRequest struct {
	PlayerID   string
	PlayerName string
	RoomCode   string
	Resume     bool
}

type FullStateRequest struct{ PlayerID string }

type ResetRequest struct{ PlayerID string }

type GameProposal struct {
	PlayerID       string
	LocalMessageID uint64
	Timestamp      int64
	Payload        Game
}

func (JoinRequest) isClientMessage()      {}
func (FullStateRequest) isClientMessage() {}
func (ResetRequest) isClientMessage()     {}
func (GameProposal) isClientMessage()     {}

// DecodeClient validates a frame from a client.
func DecodeClient(b []byte) (ClientMessage, error) {
	var f ClientFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if f.PlayerID == "" {
		return nil, fmt.Errorf("%w: %s without playerId", ErrInvalidPayload, f.Type)
	}
	switch f.Type {
	case TypeJoinRoom:
		return JoinRequest{PlayerID: f.PlayerID, PlayerName: f.PlayerName, RoomCode: f.RoomCode, Resume: f.Resume}, nil
	case TypeRequestFullState:
		return FullStateRequest{PlayerID: f.PlayerID}, nil
	case TypeResetGame:
		return ResetRequest{PlayerID: f.PlayerID}, nil
	case TypeGameMessage:
		if f.Data == nil {
			return nil, fmt.Errorf("%w: gameMessage without data", ErrInvalidPayload)
		}
		g, err := DecodeGame(*f.Data)
		if err != nil {
			return nil, err
		}
		return GameProposal{PlayerID: f.PlayerID, LocalMessageID: f.LocalMessageID, Timestamp: f.Timestamp, Payload: g}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

// Server-side frame constructors.

func RoomJoinedFrame(isHost bool, gs *GameState, players []Player) ServerFrame {
	return ServerFrame{Type: TypeRoomJoined, IsHost: isHost, GameState: gs, Players: players}
}

func FullStateFrame(gs GameState, players []Player) ServerFrame {
	return ServerFrame{Type: TypeFullState, GameState: &gs, Players: players}
}

func PlayerJoinedFrame(p Player) ServerFrame {
	return ServerFrame{Type: TypePlayerJoined, PlayerID: p.PlayerID, PlayerName: p.PlayerName}
}

func PlayerLeftFrame(playerID string) ServerFrame {
	return ServerFrame{Type: TypePlayerLeft, PlayerID: playerID}
}

func GameResetFrame(gs *GameState) ServerFrame {
	return ServerFrame{Type: TypeGameReset, GameState: gs}
}

func ErrorFrame(e *Error) ServerFrame {
	return ServerFrame{Type: TypeError, Code: e.Code, Message: e.Message}
}

// GameFrame wraps a payload broadcast on behalf of sentBy.
func GameFrame(g Game, sentBy string, ts int64) (ServerFrame, error) {
	gd, err := EncodeGame(g)
	if err != nil {
		return ServerFrame{}, err
	}
	gd.SentBy = sentBy
	gd.Timestamp = ts
	return ServerFrame{Type: TypeGameMessage, Data: &gd}, nil
}
