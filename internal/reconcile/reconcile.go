// Package reconcile merges authoritative card updates into the client's
// in-memory table. The store here is the only source of truth on the client;
// anything rendered is a projection of View.
package reconcile

import (
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

// Card is the reconciled state of one card on the table.
type Card struct {
	Instance  deck.Instance
	Position  protocol.Position
	Location  protocol.Location
	IsFlipped bool
	PrivateTo string
	ZIndex    int
	Timestamp int64
	Version   uint64
	// Visible is false for cards private to another player.
	Visible bool
}

func (c Card) UniqueID() string { return c.Instance.UniqueID }

// Layout places discard-pile cards. The authority's pixels are never used
// for the pile.
type Layout struct {
	DiscardOrigin protocol.Position
	StackOffset   protocol.Position
	MaxStackDepth int
}

func DefaultLayout() Layout {
	return Layout{
		DiscardOrigin: protocol.Position{X: 40, Y: 40},
		StackOffset:   protocol.Position{X: 2, Y: 2},
		MaxStackDepth: 10,
	}
}

// BatchResult reports what one batch did, by uniqueId.
type BatchResult struct {
	Created []string
	Updated []string
	Removed []string
	// Stale records were older than the applied version.
	Stale []string
	// Missing records referenced a card this client cannot materialize.
	Missing []string
}

type Reconciler struct {
	self   string
	layout Layout
	log    *zap.Logger

	cards    map[string]*Card
	versions map[string]uint64
	deck     *deck.Deck
	discard  []string
	z        int
	lastTS   int64

	privateCounts map[string]int
}

func New(self string, layout Layout, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		self:          self,
		layout:        layout,
		log:           logger,
		cards:         make(map[string]*Card),
		versions:      make(map[string]uint64),
		deck:          deck.Build(deck.Preset{}),
		privateCounts: make(map[string]int),
	}
}

// SetSelf changes the local identity, which is regenerated per connection.
func (r *Reconciler) SetSelf(playerID string) {
	r.self = playerID
	for _, c := range r.cards {
		c.Visible = r.visibleTo(c.PrivateTo)
	}
}

func (r *Reconciler) Self() string { return r.self }

// Deck is the local projection of the undealt deck.
func (r *Reconciler) Deck() *deck.Deck { return r.deck }

// ReplaceDeck installs a new deck; cards already on the table are kept
// out of it.
func (r *Reconciler) ReplaceDeck(d *deck.Deck) {
	for id := range r.cards {
		d.Remove(id)
	}
	r.deck = d
}

func (r *Reconciler) visibleTo(owner string) bool {
	return owner == "" || owner == r.self
}

// ApplyBatch applies records in order; for one uniqueId the last record wins.
// Aggregates are recomputed once at the end.
func (r *Reconciler) ApplyBatch(records []protocol.CardState) BatchResult {
	var res BatchResult
	for _, rec := range records {
		r.apply(rec, &res)
	}
	r.finish()
	return res
}

func (r *Reconciler) apply(rec protocol.CardState, res *BatchResult) {
	id := rec.UniqueID
	if rec.Version != 0 && rec.Version < r.versions[id] {
		res.Stale = append(res.Stale, id)
		return
	}
	if rec.Version > r.versions[id] {
		r.versions[id] = rec.Version
	}
	if rec.Timestamp > r.lastTS {
		r.lastTS = rec.Timestamp
	}

	if rec.Status == protocol.StatusDiscarded {
		r.remove(id, rec)
		res.Removed = append(res.Removed, id)
		return
	}

	c, ok := r.cards[id]
	if !ok {
		if rec.Card == nil {
			r.log.Debug("cannot materialize card without template", zap.String("uniqueId", id))
			res.Missing = append(res.Missing, id)
			return
		}
		in := rec.Card.Instance()
		in.UniqueID = id
		c = &Card{Instance: in, Location: protocol.LocationTable}
		r.cards[id] = c
		r.deck.Remove(id)
		res.Created = append(res.Created, id)
	} else {
		res.Updated = append(res.Updated, id)
	}

	if rec.PrivateTo.Set {
		c.PrivateTo = rec.PrivateTo.ID
	}

	if rec.Location == protocol.LocationDiscard {
		c.Location = protocol.LocationDiscard
		c.IsFlipped = false
		c.PrivateTo = ""
		if !slices.Contains(r.discard, id) {
			r.discard = append(r.discard, id)
		}
	} else {
		c.Location = protocol.LocationTable
		r.discard = slices.DeleteFunc(r.discard, func(d string) bool { return d == id })
		if rec.Position != nil {
			c.Position = *rec.Position
		}
	}

	if rec.ZIndex != nil {
		c.ZIndex = *rec.ZIndex
		r.observeZ(c.ZIndex)
	}
	if rec.IsFlipped != nil && c.Location != protocol.LocationDiscard {
		c.IsFlipped = *rec.IsFlipped
	}

	c.Visible = r.visibleTo(c.PrivateTo)
	c.Timestamp = rec.Timestamp
	c.Version = r.versions[id]
}

// remove drops the card and returns its instance to the deck.
func (r *Reconciler) remove(id string, rec protocol.CardState) {
	var in deck.Instance
	if c, ok := r.cards[id]; ok {
		in = c.Instance
	} else if rec.Card != nil {
		in = rec.Card.Instance()
		in.UniqueID = id
	}
	delete(r.cards, id)
	r.discard = slices.DeleteFunc(r.discard, func(d string) bool { return d == id })
	if in.UniqueID == "" {
		return
	}
	if err := r.deck.AddBack(in); err != nil {
		r.log.Debug("card not returned to deck", zap.String("uniqueId", id), zap.Error(err))
	}
}

// finish recomputes discard stacking and per-player private counts.
func (r *Reconciler) finish() {
	for i, id := range r.discard {
		c := r.cards[id]
		depth := min(i, r.layout.MaxStackDepth)
		c.Position = protocol.Position{
			X: r.layout.DiscardOrigin.X + float64(depth)*r.layout.StackOffset.X,
			Y: r.layout.DiscardOrigin.Y + float64(depth)*r.layout.StackOffset.Y,
		}
	}
	clear(r.privateCounts)
	for _, c := range r.cards {
		if c.PrivateTo != "" {
			r.privateCounts[c.PrivateTo]++
		}
	}
}

// ApplySnapshot replaces the local table with a full authoritative state.
// Discard positions are recomputed locally from the membership order.
func (r *Reconciler) ApplySnapshot(gs protocol.GameState) BatchResult {
	r.cards = make(map[string]*Card)
	r.versions = make(map[string]uint64)
	r.discard = nil
	r.deck = deck.FromExport(gs.DeckID, gs.DeckData, gs.OriginalDeckSize)

	ids := make([]string, 0, len(gs.Cards))
	for id := range gs.Cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res BatchResult
	for _, id := range ids {
		rec := gs.Cards[id]
		rec.UniqueID = id
		r.apply(rec, &res)
	}

	order := make([]string, 0, len(r.discard))
	for _, id := range gs.DiscardPile {
		if c, ok := r.cards[id]; ok && c.Location == protocol.LocationDiscard && !slices.Contains(order, id) {
			order = append(order, id)
		}
	}
	for _, id := range r.discard {
		if !slices.Contains(order, id) {
			order = append(order, id)
		}
	}
	r.discard = order
	r.finish()
	return res
}

// Clear forgets every card and installs an empty deck.
func (r *Reconciler) Clear() {
	r.cards = make(map[string]*Card)
	r.versions = make(map[string]uint64)
	r.discard = nil
	r.deck = deck.Build(deck.Preset{})
	r.lastTS = 0
	r.finish()
}

func (r *Reconciler) Card(uniqueID string) (Card, bool) {
	c, ok := r.cards[uniqueID]
	if !ok {
		return Card{}, false
	}
	return *c, true
}

func (r *Reconciler) Len() int { return len(r.cards) }

// View is the projection of visible cards, back to front.
func (r *Reconciler) View() []Card {
	out := make([]Card, 0, len(r.cards))
	for _, c := range r.cards {
		if c.Visible {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].UniqueID() < out[j].UniqueID()
	})
	return out
}

func (r *Reconciler) PrivateCount(playerID string) int { return r.privateCounts[playerID] }

func (r *Reconciler) PrivateCounts() map[string]int {
	out := make(map[string]int, len(r.privateCounts))
	for k, v := range r.privateCounts {
		out[k] = v
	}
	return out
}

func (r *Reconciler) DiscardCount() int { return len(r.discard) }

// Discard returns the discard pile, bottom first.
func (r *Reconciler) Discard() []string { return slices.Clone(r.discard) }


// Records exports every known card as a full record, sorted by uniqueId.
func (r *Reconciler) Records() []protocol.CardState {
	ids := make([]string, 0, len(r.cards))
	for id := range r.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]protocol.CardState, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.cards[id].Record())
	}
	return out
}

// Record renders the card as a complete wire record.
func (c Card) Record() protocol.CardState {
	ec := deck.ExportInstance(c.Instance)
	pos := c.Position
	owner := protocol.Public()
	if c.PrivateTo != "" {
		owner = protocol.PrivateTo(c.PrivateTo)
	}
	return protocol.CardState{
		UniqueID:  c.UniqueID(),
		Card:      &ec,
		Position:  &pos,
		Location:  c.Location,
		IsFlipped: protocol.Bool(c.IsFlipped),
		PrivateTo: owner,
		ZIndex:    protocol.Int(c.ZIndex),
		Timestamp: c.Timestamp,
	}
}
