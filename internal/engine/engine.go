package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

var ErrDeckEmpty = errors.New("deck empty")
var ErrInvalidState = errors.New("invalid state")
var ErrUnsupportedCommand = errors.New("unsupported command")

// State is the authoritative table of one room.
type State struct {
	DeckID string
	Deck   *deck.Deck
	// Origin is the full deck as loaded; Reset rebuilds from it.
	Origin  deck.Export
	Cards   map[string]protocol.CardState
	Discard []string
	// Versions outlive the cards they belong to so a late record for a
	// recycled card is still ordered.
	Versions map[string]uint64
	Seq      uint64
}

type CommandType string

const (
	CmdUpdateCardState CommandType = "UpdateCardState"
	CmdUpdateDeck      CommandType = "UpdateDeck"
	CmdShuffleDiscard  CommandType = "ShuffleDiscard"
	CmdReset           CommandType = "Reset"
)

/*
	CmdUpdateCardState -> EvtCardsUpdated (full records, versioned)
	CmdUpdateDeck      -> EvtDeckUpdated when only the order changed
	                   -> EvtGameReset when the deck was replaced
	CmdShuffleDiscard  -> EvtCardsUpdated carrying "discarded" sentinels
	CmdReset           -> EvtGameReset
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Now      int64

	Cards            []protocol.CardState
	DeckID           string
	DeckData         deck.Export
	OriginalDeckSize int
	UniqueIDs        []string
}

type EventType string

const (
	EvtCardsUpdated EventType = "CardsUpdated"
	EvtDeckUpdated  EventType = "DeckUpdated"
	EvtGameReset    EventType = "GameReset"
)

type Event struct {
	Type  EventType
	Cards []protocol.CardState
	// Deck fields are set for EvtDeckUpdated.
	DeckID           string
	DeckData         deck.Export
	OriginalDeckSize int
}

// Apply validates cmd against s. On error s is returned untouched and no
// part of the command takes effect.
func Apply(s State, cmd Command) ([]Event, State, error) {
	next := s.Clone()

	switch cmd.Type {
	case CmdUpdateCardState:
		if len(cmd.Cards) == 0 {
			return nil, s, fmt.Errorf("%w: empty batch", ErrInvalidState)
		}
		out := make([]protocol.CardState, 0, len(cmd.Cards))
		for _, rec := range cmd.Cards {
			applied, err := next.applyRecord(rec, cmd.PlayerID, cmd.Now)
			if err != nil {
				return nil, s, err
			}
			out = append(out, applied)
		}
		return []Event{{Type: EvtCardsUpdated, Cards: out}}, next, nil

	case CmdUpdateDeck:
		if cmd.DeckID == "" {
			return nil, s, fmt.Errorf("%w: deck without id", ErrInvalidState)
		}
		if cmd.DeckID == s.DeckID {
			// Same deck: only the order changes, e.g. a shuffle. Cards on the
			// table stay.
			next.Deck = reorder(s.Deck, cmd.DeckData)
			return []Event{{
				Type:             EvtDeckUpdated,
				DeckID:           cmd.DeckID,
				DeckData:         next.Deck.Export(),
				OriginalDeckSize: next.Deck.OriginalSize(),
			}}, next, nil
		}
		if len(cmd.DeckData.Cards) == 0 {
			return nil, s, fmt.Errorf("%w: replacement deck has no cards", ErrInvalidState)
		}
		next.DeckID = cmd.DeckID
		next.Deck = deck.FromExport(cmd.DeckID, cmd.DeckData, cmd.OriginalDeckSize)
		next.Origin = next.Deck.Export()
		next.Cards = map[string]protocol.CardState{}
		next.Discard = nil
		return []Event{{Type: EvtGameReset}}, next, nil

	case CmdShuffleDiscard:
		var out []protocol.CardState
		for _, id := range cmd.UniqueIDs {
			cur, ok := next.Cards[id]
			if !ok || cur.Location != protocol.LocationDiscard {
				continue
			}
			rec, err := next.recycle(cur, cmd.Now)
			if err != nil {
				return nil, s, err
			}
			out = append(out, rec)
		}
		if len(out) == 0 {
			return nil, s, fmt.Errorf("%w: none of the cards are in the discard pile", ErrInvalidState)
		}
		return []Event{{Type: EvtCardsUpdated, Cards: out}}, next, nil

	case CmdReset:
		next.Deck = deck.FromExport(s.DeckID, s.Origin, s.Deck.OriginalSize())
		next.Cards = map[string]protocol.CardState{}
		next.Discard = nil
		return []Event{{Type: EvtGameReset}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// applyRecord merges one proposed record and returns the full stored
// record that is broadcast.
func (st *State) applyRecord(rec protocol.CardState, playerID string, now int64) (protocol.CardState, error) {
	id := rec.UniqueID
	cur, onTable := st.Cards[id]

	if rec.Status == protocol.StatusDiscarded {
		if !onTable {
			return protocol.CardState{}, fmt.Errorf("%w: %s is not on the table", ErrInvalidState, id)
		}
		return st.recycle(cur, now)
	}

	if !onTable {
		in, ok := st.Deck.Get(id)
		if !ok {
			if st.Deck.Len() == 0 {
				return protocol.CardState{}, ErrDeckEmpty
			}
			return protocol.CardState{}, fmt.Errorf("%w: %s is not in the deck", ErrInvalidState, id)
		}
		st.Deck.Remove(id)
		ec := deck.ExportInstance(in)
		cur = protocol.CardState{
			UniqueID:  id,
			Card:      &ec,
			Position:  protocol.At(0, 0),
			Location:  protocol.LocationTable,
			IsFlipped: protocol.Bool(false),
			PrivateTo: protocol.Public(),
			ZIndex:    protocol.Int(0),
		}
		// A deal without explicit placement goes to the dealer's hand.
		if !rec.PrivateTo.Set {
			cur.PrivateTo = protocol.PrivateTo(playerID)
		}
	}

	if rec.Position != nil {
		cur.Position = protocol.At(rec.Position.X, rec.Position.Y)
	}
	if rec.Location != "" {
		cur.Location = rec.Location
	}
	if rec.IsFlipped != nil {
		cur.IsFlipped = protocol.Bool(*rec.IsFlipped)
	}
	if rec.PrivateTo.Set {
		cur.PrivateTo = protocol.Owner{Set: true, ID: rec.PrivateTo.ID}
	}
	if rec.ZIndex != nil {
		cur.ZIndex = protocol.Int(*rec.ZIndex)
	}

	if cur.Location == protocol.LocationDiscard {
		cur.IsFlipped = protocol.Bool(false)
		cur.PrivateTo = protocol.Public()
		if !slices.Contains(st.Discard, id) {
			st.Discard = append(st.Discard, id)
		}
	} else {
		st.Discard = slices.DeleteFunc(st.Discard, func(d string) bool { return d == id })
	}

	cur.Timestamp = now
	st.stamp(&cur)
	st.Cards[id] = cur
	return cloneRecord(cur), nil
}

// recycle returns a card on the table to the deck and builds the sentinel.
func (st *State) recycle(cur protocol.CardState, now int64) (protocol.CardState, error) {
	id := cur.UniqueID
	if cur.Card == nil {
		return protocol.CardState{}, fmt.Errorf("%w: %s has no template", ErrInvalidState, id)
	}
	in := cur.Card.Instance()
	in.UniqueID = id
	if err := st.Deck.AddBack(in); err != nil {
		return protocol.CardState{}, fmt.Errorf("%w: return %s: %v", ErrInvalidState, id, err)
	}
	delete(st.Cards, id)
	st.Discard = slices.DeleteFunc(st.Discard, func(d string) bool { return d == id })

	rec := protocol.Discarded(id, now)
	ec := *cur.Card
	rec.Card = &ec
	st.stamp(&rec)
	return rec, nil
}

func (st *State) stamp(rec *protocol.CardState) {
	st.Seq++
	st.Versions[rec.UniqueID] = st.Seq
	rec.Version = st.Seq
}

// reorder applies the proposed order to the cards d actually holds. Cards
// the proposer did not know about keep their place at the bottom; cards d
// no longer holds are ignored.
func reorder(d *deck.Deck, e deck.Export) *deck.Deck {
	held := d.Cards()
	byID := make(map[string]deck.Instance, len(held))
	for _, in := range held {
		byID[in.UniqueID] = in
	}
	order := make([]deck.Instance, 0, len(held))
	for _, c := range e.Cards {
		id := c.Instance().UniqueID
		if in, ok := byID[id]; ok {
			order = append(order, in)
			delete(byID, id)
		}
	}
	var rest []deck.Instance
	for _, in := range held {
		if _, ok := byID[in.UniqueID]; ok {
			rest = append(rest, in)
		}
	}
	out := deck.Export{Name: d.Name, Description: d.Description, InvertTitles: d.InvertTitles}
	for _, in := range append(rest, order...) {
		out.Cards = append(out.Cards, deck.ExportInstance(in))
	}
	return deck.FromExport(d.ID, out, d.OriginalSize())
}
