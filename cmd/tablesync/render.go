package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
	"github.com/DoyleJ11/cardtable-sync/internal/session"
)

func render(snap session.Snapshot) {
	title := "Not in a room"
	if snap.Room != "" {
		title = fmt.Sprintf("Room %s (%s)", snap.Room, snap.State)
	}
	pterm.DefaultSection.Println(title)

	pterm.Info.Printfln("Deck %s: %d of %d cards, %d discarded, %d pending",
		snap.DeckID, snap.DeckSize, snap.OriginalDeckSize, len(snap.Discard), snap.Pending)

	data := pterm.TableData{{"#", "Card", "Where", "X", "Y", "Z", "Face"}}
	for i, c := range snap.Cards {
		where := "table"
		switch {
		case c.Location == protocol.LocationDiscard:
			where = "discard"
		case c.PrivateTo == snap.PlayerID:
			where = "your hand"
		}
		face := "down"
		if c.IsFlipped {
			face = "up"
		}
		name := c.Instance.Template.Title
		if e := c.Instance.Template.Emoji; e != "" {
			name = e + " " + name
		}
		data = append(data, []string{
			strconv.Itoa(i + 1),
			name,
			where,
			fmt.Sprintf("%.0f", c.Position.X),
			fmt.Sprintf("%.0f", c.Position.Y),
			strconv.Itoa(c.ZIndex),
			face,
		})
	}
	if len(data) > 1 {
		_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
	}

	items := make([]pterm.BulletListItem, 0, len(snap.Players))
	for _, p := range snap.Players {
		text := fmt.Sprintf("%s (%d in hand)", p.PlayerName, snap.PrivateCount(p.PlayerID))
		style := pterm.NewStyle(pterm.FgDefault)
		if p.PlayerID == snap.PlayerID {
			text += " you"
			style = pterm.NewStyle(pterm.FgLightGreen)
		}
		items = append(items, pterm.BulletListItem{Level: 0, Text: text, TextStyle: style})
	}
	if len(items) > 0 {
		_ = pterm.DefaultBulletList.WithItems(items).Render()
	}
	if len(snap.Selected) > 0 {
		pterm.Info.Printfln("%d selected", len(snap.Selected))
	}
}
