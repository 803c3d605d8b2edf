package deck

// ExportCard is the template-level snapshot of one instance.
type ExportCard struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
	InstanceID  int    `json:"instanceId"`
	UniqueID    string `json:"uniqueId"`
}

// Export carries enough to rebuild the same deck elsewhere. It doubles as the
// deckData wire shape.
type Export struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	InvertTitles bool         `json:"invertTitles,omitempty"`
	Cards        []ExportCard `json:"cards"`
}

func ExportInstance(in Instance) ExportCard {
	t := in.Template
	return ExportCard{
		Title:       t.Title,
		Description: t.Description,
		Image:       t.Image,
		Emoji:       t.Emoji,
		Size:        t.Size,
		Color:       t.Color,
		InstanceID:  in.InstanceID,
		UniqueID:    in.UniqueID,
	}
}

// Instance rebuilds the instance; a missing uniqueId is derived.
func (c ExportCard) Instance() Instance {
	t := Template{
		Title:       c.Title,
		Description: c.Description,
		Image:       c.Image,
		Emoji:       c.Emoji,
		Size:        c.Size,
		Color:       c.Color,
	}
	in := Instance{InstanceID: c.InstanceID, UniqueID: c.UniqueID, Template: t}
	if in.UniqueID == "" {
		in.UniqueID = UniqueID(t, c.InstanceID)
	}
	return in
}

func (d *Deck) Export() Export {
	e := Export{
		Name:         d.Name,
		Description:  d.Description,
		InvertTitles: d.InvertTitles,
		Cards:        make([]ExportCard, 0, len(d.cards)),
	}
	for _, in := range d.cards {
		e.Cards = append(e.Cards, ExportInstance(in))
	}
	return e
}

// FromExport rebuilds a deck. originalSize <= 0 means the exported length.
func FromExport(id string, e Export, originalSize int) *Deck {
	d := &Deck{
		ID:           id,
		Name:         e.Name,
		Description:  e.Description,
		InvertTitles: e.InvertTitles,
		cards:        make([]Instance, 0, len(e.Cards)),
	}
	for _, c := range e.Cards {
		d.cards = append(d.cards, c.Instance())
	}
	d.originalSize = originalSize
	if d.originalSize < len(d.cards) {
		d.originalSize = len(d.cards)
	}
	return d
}
