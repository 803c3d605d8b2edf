package deck

import (
	"errors"
	"math/rand"
	"slices"
)

var ErrEmpty = errors.New("deck is empty")
var ErrFull = errors.New("deck already holds its original size")
var ErrDuplicate = errors.New("card already in deck")

// Deck is the ordered sequence of not yet dealt instances. The tail is the top.
type Deck struct {
	ID           string
	Name         string
	Description  string
	InvertTitles bool

	cards        []Instance
	originalSize int
}

// Build constructs a fresh deck from a preset. Instance ordinals count per
// distinct template content so identical designs never share an id.
func Build(p Preset) *Deck {
	d := &Deck{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		InvertTitles: p.InvertTitles,
	}
	ordinals := map[string]int{}
	for _, e := range p.Cards {
		k := e.Template.key()
		for i := 0; i < e.Count; i++ {
			d.cards = append(d.cards, NewInstance(e.Template, ordinals[k]))
			ordinals[k]++
		}
	}
	d.originalSize = len(d.cards)
	return d
}

func (d *Deck) Len() int { return len(d.cards) }

// OriginalSize is captured at load time and bounds AddBack.
func (d *Deck) OriginalSize() int { return d.originalSize }

// Cards returns a copy of the deck order, bottom first.
func (d *Deck) Cards() []Instance { return slices.Clone(d.cards) }

// Shuffle is a Fisher–Yates permutation driven by r.
func (d *Deck) Shuffle(r *rand.Rand) {
	for i := len(d.cards) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	}
}

// Peek returns the top instance without removing it.
func (d *Deck) Peek() (Instance, error) {
	if len(d.cards) == 0 {
		return Instance{}, ErrEmpty
	}
	return d.cards[len(d.cards)-1], nil
}

// Deal pops the top instance.
func (d *Deck) Deal() (Instance, error) {
	top, err := d.Peek()
	if err != nil {
		return Instance{}, err
	}
	d.cards = d.cards[:len(d.cards)-1]
	return top, nil
}

// AddBack appends a returned instance on top, bounded by OriginalSize.
func (d *Deck) AddBack(in Instance) error {
	if d.Contains(in.UniqueID) {
		return ErrDuplicate
	}
	if len(d.cards) >= d.originalSize {
		return ErrFull
	}
	d.cards = append(d.cards, in)
	return nil
}

// Remove drops an instance dealt elsewhere. It reports whether it was present.
func (d *Deck) Remove(uniqueID string) bool {
	i := d.index(uniqueID)
	if i < 0 {
		return false
	}
	d.cards = slices.Delete(d.cards, i, i+1)
	return true
}

func (d *Deck) Contains(uniqueID string) bool { return d.index(uniqueID) >= 0 }

func (d *Deck) Get(uniqueID string) (Instance, bool) {
	i := d.index(uniqueID)
	if i < 0 {
		return Instance{}, false
	}
	return d.cards[i], true
}

func (d *Deck) index(uniqueID string) int {
	return slices.IndexFunc(d.cards, func(in Instance) bool { return in.UniqueID == uniqueID })
}

// Clone returns an independent copy.
func (d *Deck) Clone() *Deck {
	c := *d
	c.cards = slices.Clone(d.cards)
	return &c
}
