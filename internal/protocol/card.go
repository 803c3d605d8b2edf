package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
)

type Location string

const (
	LocationTable   Location = "table"
	LocationDiscard Location = "discardPile"
)

// StatusDiscarded marks a card returned to the deck. Receivers drop the card.
const StatusDiscarded = "discarded"

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Owner is the privateTo field. The zero value means the field was absent;
// Set with an empty ID is an explicit null.
type Owner struct {
	Set bool
	ID  string
}

// PrivateTo returns an owner set to playerID.
func PrivateTo(playerID string) Owner { return Owner{Set: true, ID: playerID} }

// Public returns an explicit null owner.
func Public() Owner { return Owner{Set: true} }

func (o Owner) MarshalJSON() ([]byte, error) {
	if o.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(o.ID)
}

func (o *Owner) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(b, []byte("null")) {
		o.ID = ""
		return nil
	}
	return json.Unmarshal(b, &o.ID)
}

// CardState is one per-card record. Optional fields are pointers or zero
// values; the reconciler decides what absence means.
type CardState struct {
	UniqueID  string           `json:"uniqueId"`
	Card      *deck.ExportCard `json:"card,omitempty"`
	Position  *Position        `json:"position,omitempty"`
	Location  Location         `json:"location,omitempty"`
	IsFlipped *bool            `json:"isFlipped,omitempty"`
	PrivateTo Owner            `json:"privateTo,omitzero"`
	ZIndex    *int             `json:"zIndex,omitempty"`
	Status    string           `json:"status,omitempty"`
	Timestamp int64            `json:"timestamp"`
	// Version is stamped by the authority and increases per card.
	Version uint64 `json:"version,omitempty"`
}

func Bool(b bool) *bool { return &b }
func Int(i int) *int    { return &i }

func At(x, y float64) *Position { return &Position{X: x, Y: y} }

// Discarded builds the return-to-deck sentinel for uniqueID.
func Discarded(uniqueID string, ts int64) CardState {
	return CardState{UniqueID: uniqueID, Status: StatusDiscarded, Timestamp: ts}
}
