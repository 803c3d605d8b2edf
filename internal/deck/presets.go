package deck

import (
	"sort"
	"strconv"
)

// Entry is Count copies of one template.
type Entry struct {
	Template Template `json:"template"`
	Count    int      `json:"count"`
}

// Preset is a named, data-only deck definition.
type Preset struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	InvertTitles bool    `json:"invertTitles,omitempty"`
	Cards        []Entry `json:"cards"`
}

const (
	PresetStandard = "standard"
	PresetBlank    = "blank"
)

var builtins = map[string]Preset{
	PresetStandard: standardPreset(),
	PresetBlank:    blankPreset(20),
}

// Builtin looks up a built-in preset by id.
func Builtin(id string) (Preset, bool) {
	p, ok := builtins[id]
	return p, ok
}

// BuiltinIDs lists the built-in preset ids in a stable order.
func BuiltinIDs() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func standardPreset() Preset {
	suits := []struct{ symbol, color string }{
		{"♠", "black"}, {"♥", "red"}, {"♦", "red"}, {"♣", "black"},
	}
	ranks := []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
	p := Preset{ID: PresetStandard, Name: "Standard", Description: "52 playing cards"}
	for _, s := range suits {
		for _, r := range ranks {
			p.Cards = append(p.Cards, Entry{
				Template: Template{Title: r + s.symbol, Emoji: s.symbol, Color: s.color},
				Count:    1,
			})
		}
	}
	return p
}

func blankPreset(n int) Preset {
	p := Preset{ID: PresetBlank, Name: "Blank", Description: "Numbered blank cards", InvertTitles: true}
	for i := 1; i <= n; i++ {
		p.Cards = append(p.Cards, Entry{Template: Template{Title: strconv.Itoa(i)}, Count: 1})
	}
	return p
}
