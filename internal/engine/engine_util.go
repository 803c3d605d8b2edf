package engine

import (
	"maps"
	"slices"
	"sort"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

// NewState opens a table with every card of p in the deck.
func NewState(p deck.Preset) State {
	d := deck.Build(p)
	return State{
		DeckID:   p.ID,
		Deck:     d,
		Origin:   d.Export(),
		Cards:    map[string]protocol.CardState{},
		Versions: map[string]uint64{},
	}
}

// NewEmptyState is the default table: the standard preset.
func NewEmptyState() State {
	p, _ := deck.Builtin(deck.PresetStandard)
	return NewState(p)
}

// Clone deep-copies s so Apply never mutates its input.
func (s State) Clone() State {
	c := s
	if s.Deck != nil {
		c.Deck = s.Deck.Clone()
	}
	c.Origin.Cards = slices.Clone(s.Origin.Cards)
	c.Cards = make(map[string]protocol.CardState, len(s.Cards))
	for id, rec := range s.Cards {
		c.Cards[id] = cloneRecord(rec)
	}
	c.Discard = slices.Clone(s.Discard)
	c.Versions = maps.Clone(s.Versions)
	if c.Versions == nil {
		c.Versions = map[string]uint64{}
	}
	return c
}

// GameState is the wire snapshot of s.
func (s State) GameState() protocol.GameState {
	gs := protocol.GameState{
		DeckID:           s.DeckID,
		DeckData:         s.Deck.Export(),
		OriginalDeckSize: s.Deck.OriginalSize(),
		Cards:            make(map[string]protocol.CardState, len(s.Cards)),
		DiscardPile:      slices.Clone(s.Discard),
	}
	for id, rec := range s.Cards {
		gs.Cards[id] = cloneRecord(rec)
	}
	if gs.DiscardPile == nil {
		gs.DiscardPile = []string{}
	}
	return gs
}

// Persisted is what storage keeps for a room.
type Persisted struct {
	GameState protocol.GameState `json:"gameState"`
	Origin    deck.Export        `json:"origin"`
	Seq       uint64             `json:"seq"`
	Versions  map[string]uint64  `json:"versions"`
}

func (s State) Persist() Persisted {
	return Persisted{
		GameState: s.GameState(),
		Origin:    s.Origin,
		Seq:       s.Seq,
		Versions:  maps.Clone(s.Versions),
	}
}

// Restore rebuilds a State from storage.
func Restore(p Persisted) State {
	gs := p.GameState
	s := State{
		DeckID:   gs.DeckID,
		Deck:     deck.FromExport(gs.DeckID, gs.DeckData, gs.OriginalDeckSize),
		Origin:   p.Origin,
		Cards:    make(map[string]protocol.CardState, len(gs.Cards)),
		Discard:  slices.Clone(gs.DiscardPile),
		Versions: maps.Clone(p.Versions),
		Seq:      p.Seq,
	}
	for id, rec := range gs.Cards {
		rec.UniqueID = id
		s.Cards[id] = cloneRecord(rec)
	}
	if s.Versions == nil {
		s.Versions = map[string]uint64{}
	}
	if len(s.Origin.Cards) == 0 {
		s.Origin = s.Deck.Export()
	}
	return s
}

// CardIDs lists the cards on the table in a stable order.
func (s State) CardIDs() []string {
	ids := make([]string, 0, len(s.Cards))
	for id := range s.Cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func cloneRecord(r protocol.CardState) protocol.CardState {
	if r.Card != nil {
		c := *r.Card
		r.Card = &c
	}
	if r.Position != nil {
		p := *r.Position
		r.Position = &p
	}
	if r.IsFlipped != nil {
		r.IsFlipped = protocol.Bool(*r.IsFlipped)
	}
	if r.ZIndex != nil {
		r.ZIndex = protocol.Int(*r.ZIndex)
	}
	return r
}
