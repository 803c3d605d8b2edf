package selection

import "github.com/DoyleJ11/cardtable-sync/internal/protocol"

type Destination int

const (
	DestTable Destination = iota
	DestHand
	DestDiscard
)

func (d Destination) String() string {
	switch d {
	case DestHand:
		return "hand"
	case DestDiscard:
		return "discard"
	}
	return "table"
}

// Zones are the drop areas tested on release.
type Zones struct {
	Hand    Rect
	Discard Rect
}

type Member struct {
	UniqueID string
	Bounds   Rect
	ZIndex   int
}

// Drag moves members rigidly with the primary card.
type Drag struct {
	members []Member
	offsets []Point // relative to the primary's origin, captured at start
	grab    Point   // pointer offset inside the primary
	table   Rect
}

func newDrag(members []Member, pointer Point, table Rect) *Drag {
	primary := members[0].Bounds
	origin := Point{primary.X, primary.Y}
	d := &Drag{
		members: members,
		offsets: make([]Point, len(members)),
		grab:    pointer.Sub(origin),
		table:   table,
	}
	for i, m := range members {
		d.offsets[i] = Point{m.Bounds.X, m.Bounds.Y}.Sub(origin)
	}
	return d
}

// Move places the group for a pointer position. The primary is clamped to
// the table using its own dimensions; the others follow at fixed offsets.
func (d *Drag) Move(pointer Point) map[string]Point {
	p := d.members[0].Bounds
	origin := pointer.Sub(d.grab)
	if !d.table.empty() {
		origin.X = clamp(origin.X, d.table.X, d.table.X+d.table.W-p.W)
		origin.Y = clamp(origin.Y, d.table.Y, d.table.Y+d.table.H-p.H)
	}
	out := make(map[string]Point, len(d.members))
	for i := range d.members {
		at := origin.Add(d.offsets[i])
		d.members[i].Bounds.X, d.members[i].Bounds.Y = at.X, at.Y
		out[d.members[i].UniqueID] = at
	}
	return out
}

func (d *Drag) centroid() Point {
	var sum Point
	for _, m := range d.members {
		sum = sum.Add(m.Bounds.Center())
	}
	n := float64(len(d.members))
	return Point{sum.X / n, sum.Y / n}
}

func (d *Drag) anyMember(f func(Rect) bool) bool {
	for _, m := range d.members {
		if f(m.Bounds) {
			return true
		}
	}
	return false
}

// Classify picks the destination: hand beats discard beats table.
func (d *Drag) Classify(drop Point, z Zones) Destination {
	c := d.centroid()
	if z.Hand.Contains(drop) || z.Hand.Contains(c) ||
		d.anyMember(func(b Rect) bool { return z.Hand.Contains(b.Center()) }) {
		return DestHand
	}
	if z.Discard.Contains(drop) ||
		d.anyMember(z.Discard.ContainsRect) ||
		d.anyMember(func(b Rect) bool { return z.Discard.Contains(b.Center()) }) ||
		z.Discard.Contains(c) {
		return DestDiscard
	}
	return DestTable
}

// Proposal is the one updateCardState batch for the whole gesture.
func (d *Drag) Proposal(dest Destination, self string, ts int64) []protocol.CardState {
	out := make([]protocol.CardState, 0, len(d.members))
	for _, m := range d.members {
		rec := protocol.CardState{
			UniqueID:  m.UniqueID,
			Position:  protocol.At(m.Bounds.X, m.Bounds.Y),
			ZIndex:    protocol.Int(m.ZIndex),
			Timestamp: ts,
		}
		switch dest {
		case DestHand:
			rec.Location = protocol.LocationTable
			rec.PrivateTo = protocol.PrivateTo(self)
		case DestDiscard:
			rec.Location = protocol.LocationDiscard
			rec.IsFlipped = protocol.Bool(false)
			rec.PrivateTo = protocol.Public()
		default:
			rec.Location = protocol.LocationTable
			rec.PrivateTo = protocol.Public()
		}
		out = append(out, rec)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
