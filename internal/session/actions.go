package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
	"github.com/DoyleJ11/cardtable-sync/internal/selection"
)

// Join connects to room as a new player. A fresh playerId is generated
// here and kept across reconnects of the same join.
func (s *Session) Join(ctx context.Context, room string) error {
	code := protocol.CleanRoomCode(room)
	if code == "" {
		return fmt.Errorf("%w: empty room code", ErrNotJoined)
	}
	return s.do(ctx, func() error {
		s.room = code
		s.playerID = uuid.NewString()
		s.isHost = false
		s.players = nil
		s.restoreDeck = true
		s.rec.Clear()
		s.sel.Clear()
		clear(s.inflight)
		s.setIdentity()
		s.log.Info("joining room", zap.String("room", code), zap.String("player", s.playerID))
		return s.conn.Open(code)
	})
}

// Leave disconnects without retrying.
func (s *Session) Leave(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.conn.Fail(false, nil)
		s.room = ""
		s.isHost = false
		s.players = nil
		return nil
	})
}

// Reconnect restarts the reconnect cycle, typically after giving up.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		return s.conn.Reconnect()
	})
}

type DealOptions struct {
	// ToTable deals onto the open table. Otherwise the card goes to the
	// dealer's hand.
	ToTable  bool
	Position *protocol.Position
	Flipped  bool
}

// Deal proposes the top undealt card. The returned uniqueId is settled only
// once the authority echoes it.
func (s *Session) Deal(ctx context.Context, opts DealOptions) (string, error) {
	var id string
	err := s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		in, ok := s.nextUndealt()
		if !ok {
			// Emptiness is the authority's call; our projection may be stale.
			s.requestFullState()
			return deck.ErrEmpty
		}
		rec := protocol.CardState{
			UniqueID:  in.UniqueID,
			IsFlipped: protocol.Bool(opts.Flipped),
			ZIndex:    protocol.Int(s.rec.NextZ()),
			Timestamp: s.now(),
		}
		if opts.Position != nil {
			rec.Position = protocol.At(opts.Position.X, opts.Position.Y)
		}
		if opts.ToTable {
			rec.Location = protocol.LocationTable
			rec.PrivateTo = protocol.Public()
		}
		s.inflight[in.UniqueID] = true
		id = in.UniqueID
		return s.game(protocol.UpdateCardState{CardStates: []protocol.CardState{rec}})
	})
	return id, err
}

// nextUndealt is the top card not already proposed for a deal.
func (s *Session) nextUndealt() (deck.Instance, bool) {
	cards := s.rec.Deck().Cards()
	for i := len(cards) - 1; i >= 0; i-- {
		if !s.inflight[cards[i].UniqueID] {
			return cards[i], true
		}
	}
	return deck.Instance{}, false
}

// Flip turns a card over. The proposal leaves after FlipDelay.
func (s *Session) Flip(ctx context.Context, uniqueID string) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		c, ok := s.rec.Card(uniqueID)
		if !ok || !c.Visible {
			return fmt.Errorf("%w: %s", ErrUnknownCard, uniqueID)
		}
		if c.Location == protocol.LocationDiscard {
			return fmt.Errorf("%w: %s is in the discard pile", ErrUnknownCard, uniqueID)
		}
		due := flipDue{uniqueID: uniqueID, flipped: !c.IsFlipped, z: s.rec.NextZ()}
		if s.cfg.FlipDelay <= 0 {
			s.sendFlip(due)
			return nil
		}
		time.AfterFunc(s.cfg.FlipDelay, func() { s.post(due) })
		return nil
	})
}

func (s *Session) sendFlip(f flipDue) {
	rec := protocol.CardState{
		UniqueID:  f.uniqueID,
		IsFlipped: protocol.Bool(f.flipped),
		ZIndex:    protocol.Int(f.z),
		Timestamp: s.now(),
	}
	if err := s.game(protocol.UpdateCardState{CardStates: []protocol.CardState{rec}}); err != nil {
		s.log.Warn("flip", zap.String("uniqueId", f.uniqueID), zap.Error(err))
	}
}

// Discard moves cards to the discard pile in one batch.
func (s *Session) Discard(ctx context.Context, uniqueIDs ...string) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		var recs []protocol.CardState
		for _, id := range uniqueIDs {
			c, ok := s.rec.Card(id)
			if !ok || !c.Visible || c.Location == protocol.LocationDiscard {
				continue
			}
			recs = append(recs, protocol.CardState{
				UniqueID:  id,
				Location:  protocol.LocationDiscard,
				IsFlipped: protocol.Bool(false),
				PrivateTo: protocol.Public(),
				ZIndex:    protocol.Int(s.rec.NextZ()),
				Timestamp: s.now(),
			})
		}
		if len(recs) == 0 {
			return fmt.Errorf("%w: nothing to discard", ErrUnknownCard)
		}
		return s.game(protocol.UpdateCardState{CardStates: recs})
	})
}

// ShuffleDiscardPile returns the whole discard pile to the deck.
func (s *Session) ShuffleDiscardPile(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		ids := s.rec.Discard()
		if len(ids) == 0 {
			return ErrDiscardEmpty
		}
		return s.game(protocol.ShuffleDiscardPile{UniqueIDs: ids})
	})
}

// ShuffleDeck permutes the undealt cards and proposes the new order.
func (s *Session) ShuffleDeck(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		d := s.rec.Deck().Clone()
		if d.Len() == 0 {
			return deck.ErrEmpty
		}
		d.Shuffle(s.rng)
		return s.game(protocol.UpdateDeck{DeckID: d.ID, DeckData: d.Export(), OriginalDeckSize: d.OriginalSize()})
	})
}

// ChangeDeck replaces the room's deck with a preset. The authority resets
// the table.
func (s *Session) ChangeDeck(ctx context.Context, presetID string) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		return s.changeDeck(presetID)
	})
}

func (s *Session) changeDeck(presetID string) error {
	p, err := s.resolve(presetID)
	if err != nil {
		return err
	}
	d := deck.Build(p)
	if err := s.game(protocol.UpdateDeck{DeckID: p.ID, DeckData: d.Export(), OriginalDeckSize: d.OriginalSize()}); err != nil {
		return err
	}
	if s.prefs != nil {
		if err := s.prefs.SetLastDeck(p.ID); err != nil {
			s.log.Warn("remember deck", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) resolve(id string) (deck.Preset, error) {
	if s.prefs != nil {
		return s.prefs.Resolve(id)
	}
	p, ok := deck.Builtin(id)
	if !ok {
		return deck.Preset{}, fmt.Errorf("unknown preset %q", id)
	}
	return p, nil
}

func (s *Session) ResetGame(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		return s.router.Control(s.ctx, protocol.ResetGame{})
	})
}

func (s *Session) RequestFullState(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		return s.router.Control(s.ctx, protocol.RequestFullState{})
	})
}

// SetAlias renames the local player, persists it and tells the room.
func (s *Session) SetAlias(ctx context.Context, alias string) error {
	name := protocol.CleanName(alias)
	if name == "" {
		return ErrInvalidAlias
	}
	return s.do(ctx, func() error {
		s.alias = name
		if s.prefs != nil {
			if err := s.prefs.SetAlias(name); err != nil {
				return err
			}
		}
		s.setIdentity()
		if s.room == "" {
			return nil
		}
		if i := s.playerIndex(s.playerID); i >= 0 {
			s.players[i].PlayerName = name
		}
		s.broadcastRoster()
		return nil
	})
}

// ValidateState broadcasts this client's table hash so peers can compare.
func (s *Session) ValidateState(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		return s.validate()
	})
}

func (s *Session) validate() error {
	return s.game(s.rec.Validation())
}

// Selection and group moves. All of it is local until EndDrag.

func (s *Session) candidates() []selection.Candidate {
	view := s.rec.View()
	out := make([]selection.Candidate, 0, len(view))
	for _, c := range view {
		out = append(out, selection.Candidate{
			UniqueID:  c.UniqueID(),
			Bounds:    selection.Rect{X: c.Position.X, Y: c.Position.Y, W: s.cfg.CardW, H: s.cfg.CardH},
			Location:  c.Location,
			PrivateTo: c.PrivateTo,
		})
	}
	return out
}

func (s *Session) bounds(id string) (selection.Rect, bool) {
	c, ok := s.rec.Card(id)
	if !ok || !c.Visible {
		return selection.Rect{}, false
	}
	return selection.Rect{X: c.Position.X, Y: c.Position.Y, W: s.cfg.CardW, H: s.cfg.CardH}, true
}

func (s *Session) SelectRect(ctx context.Context, r selection.Rect) ([]string, error) {
	var ids []string
	err := s.do(ctx, func() error {
		ids = s.sel.SelectRect(r, s.candidates())
		return nil
	})
	return ids, err
}

func (s *Session) Toggle(ctx context.Context, uniqueID string) (bool, error) {
	var on bool
	err := s.do(ctx, func() error {
		for _, c := range s.candidates() {
			if c.UniqueID == uniqueID {
				on = s.sel.Toggle(c)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrUnknownCard, uniqueID)
	})
	return on, err
}

func (s *Session) ClearSelection(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.sel.Clear()
		return nil
	})
}

// BeginDrag grabs the selection at pointer. Every member is brought to the
// front.
func (s *Session) BeginDrag(ctx context.Context, pointer selection.Point) error {
	return s.do(ctx, func() error {
		_, err := s.sel.BeginDrag(pointer, s.bounds, s.rec.NextZ)
		return err
	})
}

// DragTo returns where each member would be; nothing is sent.
func (s *Session) DragTo(ctx context.Context, pointer selection.Point) (map[string]selection.Point, error) {
	var at map[string]selection.Point
	err := s.do(ctx, func() error {
		var err error
		at, err = s.sel.DragTo(pointer)
		return err
	})
	return at, err
}

// EndDrag drops the group and sends the one batched proposal.
func (s *Session) EndDrag(ctx context.Context, drop selection.Point) (selection.Destination, error) {
	var dest selection.Destination
	err := s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		recs, d, err := s.sel.EndDrag(drop, s.cfg.Zones, s.now())
		if err != nil {
			return err
		}
		dest = d
		s.sel.Clear()
		return s.game(protocol.UpdateCardState{CardStates: recs})
	})
	return dest, err
}

// MoveGroup is a whole gesture in one call: select ids, grab at from,
// release at to.
func (s *Session) MoveGroup(ctx context.Context, ids []string, from, to selection.Point) (selection.Destination, error) {
	var dest selection.Destination
	err := s.do(ctx, func() error {
		if err := s.joined(); err != nil {
			return err
		}
		s.sel.Clear()
		cands := s.candidates()
		for _, id := range ids {
			found := false
			for _, c := range cands {
				if c.UniqueID == id {
					found = s.sel.Toggle(c)
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %s", ErrUnknownCard, id)
			}
		}
		if _, err := s.sel.BeginDrag(from, s.bounds, s.rec.NextZ); err != nil {
			return err
		}
		recs, d, err := s.sel.EndDrag(to, s.cfg.Zones, s.now())
		if err != nil {
			return err
		}
		dest = d
		s.sel.Clear()
		return s.game(protocol.UpdateCardState{CardStates: recs})
	})
	return dest, err
}
