package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
)

const (
	GameUpdateCardState        = "updateCardState"
	GameUpdateDeck             = "updateDeck"
	GameShuffleDiscardPile     = "shuffleDiscardPile"
	GamePlayerList             = "playerList"
	GameStateValidation        = "stateValidation"
	GameRequestStateCorrection = "requestStateCorrection"
)

var ErrUnknownType = errors.New("unknown message type")
var ErrInvalidPayload = errors.New("invalid payload")

// Game is the closed set of payloads carried inside a gameMessage.
type Game interface {
	GameType() string
	validate() error
}

type UpdateCardState struct {
	CardStates []CardState `json:"cardStates"`
}

type UpdateDeck struct {
	DeckID           string      `json:"deckId"`
	DeckData         deck.Export `json:"deckData"`
	OriginalDeckSize int         `json:"originalDeckSize,omitempty"`
}

type ShuffleDiscardPile struct {
	UniqueIDs []string `json:"uniqueIds"`
}

type Player struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type PlayerList struct {
	Players []Player `json:"players"`
}

type StateValidation struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	PlayerID  string `json:"playerId"`
	CardCount int    `json:"cardCount"`
}

type RequestStateCorrection struct {
	FromPlayerID string `json:"fromPlayerId"`
}

func (UpdateCardState) GameType() string        { return GameUpdateCardState }
func (UpdateDeck) GameType() string             { return GameUpdateDeck }
func (ShuffleDiscardPile) GameType() string     { return GameShuffleDiscardPile }
func (PlayerList) GameType() string             { return GamePlayerList }
func (StateValidation) GameType() string        { return GameStateValidation }
func (RequestStateCorrection) GameType() string { return GameRequestStateCorrection }

func (m UpdateCardState) validate() error {
	if len(m.CardStates) == 0 {
		return fmt.Errorf("%w: empty cardStates", ErrInvalidPayload)
	}
	for i, cs := range m.CardStates {
		if cs.UniqueID == "" {
			return fmt.Errorf("%w: cardStates[%d] has no uniqueId", ErrInvalidPayload, i)
		}
		if cs.Location != "" && cs.Location != LocationTable && cs.Location != LocationDiscard {
			return fmt.Errorf("%w: cardStates[%d] location %q", ErrInvalidPayload, i, cs.Location)
		}
	}
	return nil
}

func (m UpdateDeck) validate() error {
	if m.DeckID == "" {
		return fmt.Errorf("%w: updateDeck without deckId", ErrInvalidPayload)
	}
	return nil
}

func (m ShuffleDiscardPile) validate() error {
	if len(m.UniqueIDs) == 0 {
		return fmt.Errorf("%w: shuffleDiscardPile without uniqueIds", ErrInvalidPayload)
	}
	return nil
}

func (m PlayerList) validate() error { return nil }

func (m StateValidation) validate() error {
	if m.Hash == "" || m.PlayerID == "" {
		return fmt.Errorf("%w: stateValidation needs hash and playerId", ErrInvalidPayload)
	}
	return nil
}

func (m RequestStateCorrection) validate() error {
	if m.FromPlayerID == "" {
		return fmt.Errorf("%w: requestStateCorrection without fromPlayerId", ErrInvalidPayload)
	}
	return nil
}

// GameData is the {type, data} pair inside a gameMessage frame.
type GameData struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	SentBy    string          `json:"sentBy,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// EncodeGame wraps a payload into GameData.
func EncodeGame(g Game) (GameData, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return GameData{}, fmt.Errorf("encode %s: %w", g.GameType(), err)
	}
	return GameData{Type: g.GameType(), Data: raw}, nil
}

// DecodeGame parses and validates a payload of the given kind.
func DecodeGame(gd GameData) (Game, error) {
	var g Game
	switch gd.Type {
	case GameUpdateCardState:
		g = &UpdateCardState{}
	case GameUpdateDeck:
		g = &UpdateDeck{}
	case GameShuffleDiscardPile:
		g = &ShuffleDiscardPile{}
	case GamePlayerList:
		g = &PlayerList{}
	case GameStateValidation:
		g = &StateValidation{}
	case GameRequestStateCorrection:
		g = &RequestStateCorrection{}
	default:
		return nil, fmt.Errorf("%w: game %q", ErrUnknownType, gd.Type)
	}
	if err := json.Unmarshal(gd.Data, g); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, gd.Type, err)
	}
	g = deref(g)
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// deref turns the decode target back into the value form handlers switch on.
func deref(g Game) Game {
	switch v := g.(type) {
	case *UpdateCardState:
		return *v
	case *UpdateDeck:
		return *v
	case *ShuffleDiscardPile:
		return *v
	case *PlayerList:
		return *v
	case *StateValidation:
		return *v
	case *RequestStateCorrection:
		return *v
	}
	return g
}
