// Package selection implements local multi-select and group moves. Nothing
// here talks to the network; a finished gesture yields one batched proposal.
package selection

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

var ErrNothingSelected = errors.New("nothing selected")
var ErrNotDragging = errors.New("no drag in progress")

// Candidate is a card as the hit test sees it.
type Candidate struct {
	UniqueID  string
	Bounds    Rect
	Location  protocol.Location
	PrivateTo string
}

// Hit reports whether a selection rectangle picks a card: its center, any
// corner, or any overlap.
func Hit(sel, card Rect) bool {
	if sel.Contains(card.Center()) {
		return true
	}
	for _, c := range card.Corners() {
		if sel.Contains(c) {
			return true
		}
	}
	return sel.Intersects(card)
}

// Selectable excludes discard-pile cards and other players' private cards.
func Selectable(c Candidate, self string) bool {
	if c.Location == protocol.LocationDiscard {
		return false
	}
	return c.PrivateTo == "" || c.PrivateTo == self
}

// Coordinator owns the selection set and the drag in progress.
type Coordinator struct {
	self     string
	table    Rect
	selected []string
	drag     *Drag
}

func NewCoordinator(self string, table Rect) *Coordinator {
	return &Coordinator{self: self, table: table}
}

func (c *Coordinator) SetSelf(playerID string) { c.self = playerID }

// SelectRect replaces the selection with the cards hit by sel, in candidate
// order.
func (c *Coordinator) SelectRect(sel Rect, cards []Candidate) []string {
	c.selected = c.selected[:0]
	for _, cand := range cards {
		if Selectable(cand, c.self) && Hit(sel, cand.Bounds) {
			c.selected = append(c.selected, cand.UniqueID)
		}
	}
	return c.Selected()
}

// Toggle adds or removes one card; it returns whether it is now selected.
func (c *Coordinator) Toggle(cand Candidate) bool {
	if i := slices.Index(c.selected, cand.UniqueID); i >= 0 {
		c.selected = slices.Delete(c.selected, i, i+1)
		return false
	}
	if !Selectable(cand, c.self) {
		return false
	}
	c.selected = append(c.selected, cand.UniqueID)
	return true
}

func (c *Coordinator) Selected() []string { return slices.Clone(c.selected) }

func (c *Coordinator) Clear() {
	c.selected = c.selected[:0]
	c.drag = nil
}

// Forget drops cards that no longer exist or became unselectable.
func (c *Coordinator) Forget(keep func(uniqueID string) bool) {
	c.selected = slices.DeleteFunc(c.selected, func(id string) bool { return !keep(id) })
}

// BeginDrag starts a group drag of the current selection. The first selected
// card is the primary. lookup resolves current bounds; zFor assigns the
// optimistic zIndex for each member.
func (c *Coordinator) BeginDrag(pointer Point, lookup func(string) (Rect, bool), zFor func() int) (*Drag, error) {
	var members []Member
	for _, id := range c.selected {
		if b, ok := lookup(id); ok {
			members = append(members, Member{UniqueID: id, Bounds: b, ZIndex: zFor()})
		}
	}
	if len(members) == 0 {
		return nil, ErrNothingSelected
	}
	c.drag = newDrag(members, pointer, c.table)
	return c.drag, nil
}

func (c *Coordinator) DragTo(pointer Point) (map[string]Point, error) {
	if c.drag == nil {
		return nil, ErrNotDragging
	}
	return c.drag.Move(pointer), nil
}

// EndDrag classifies the drop and returns the single batched proposal.
func (c *Coordinator) EndDrag(drop Point, zones Zones, ts int64) ([]protocol.CardState, Destination, error) {
	if c.drag == nil {
		return nil, DestTable, ErrNotDragging
	}
	d := c.drag
	c.drag = nil
	d.Move(drop)
	dest := d.Classify(drop, zones)
	return d.Proposal(dest, c.self, ts), dest, nil
}

func (c *Coordinator) Dragging() bool { return c.drag != nil }
