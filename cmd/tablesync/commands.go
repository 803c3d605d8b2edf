package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/DoyleJ11/cardtable-sync/internal/conn"
	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/discovery"
	"github.com/DoyleJ11/cardtable-sync/internal/prefs"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
	"github.com/DoyleJ11/cardtable-sync/internal/selection"
	"github.com/DoyleJ11/cardtable-sync/internal/session"
)

var errUsage = errors.New("usage")

type cli struct {
	s     *session.Session
	prefs *prefs.Store
}

const help = `show                         table, hands and players
deal [table [x y]] [up]      deal the top card, to your hand by default
flip <card>                  turn a card over
discard <card>...            move cards to the discard pile
reshuffle                    return the discard pile to the deck
shuffle                      shuffle the deck
deck <preset>                switch the room to a preset
presets                      list presets
select x1 y1 x2 y2           select cards inside a rectangle
move x1 y1 x2 y2             drag the selection from one point to another
alias <name>                 change your display name
servers                      list authorities on the local network
validate                     compare your table with the other players
sync                         ask for the full table
reset                        put every card back in the deck
join <room> | leave | reconnect | quit

<card> is a row number from 'show' or a uniqueId.`

func (c *cli) exec(ctx context.Context, line string) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s := c.s

	switch cmd, rest := args[0], args[1:]; cmd {
	case "servers":
		return false, c.servers(ctx)

	case "help", "?":
		pterm.DefaultBox.WithTitle("Commands").Println(help)
	case "quit", "exit":
		return true, nil
	case "show":
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		render(snap)

	case "join":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: join <room>", errUsage)
		}
		return false, s.Join(ctx, rest[0])
	case "leave":
		return false, s.Leave(ctx)
	case "reconnect":
		return false, s.Reconnect(ctx)

	case "deal":
		var opts session.DealOptions
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "table":
				opts.ToTable = true
				if i+2 < len(rest) && isNumber(rest[i+1]) {
					at, _, err := point(rest[i+1 : i+3])
					if err != nil {
						return false, err
					}
					opts.Position = &protocol.Position{X: at.X, Y: at.Y}
					i += 2
				}
			case "up":
				opts.Flipped = true
			default:
				return false, fmt.Errorf("%w: deal [table [x y]] [up]", errUsage)
			}
		}
		id, err := s.Deal(ctx, opts)
		if errors.Is(err, deck.ErrEmpty) {
			pterm.Warning.Println("The deck is empty.")
			return false, nil
		}
		if err == nil {
			pterm.Success.Printfln("Dealt %s", id)
		}
		return false, err

	case "flip":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: flip <card>", errUsage)
		}
		id, err := c.card(ctx, rest[0])
		if err != nil {
			return false, err
		}
		return false, s.Flip(ctx, id)

	case "discard":
		if len(rest) == 0 {
			return false, fmt.Errorf("%w: discard <card>...", errUsage)
		}
		ids := make([]string, 0, len(rest))
		for _, a := range rest {
			id, err := c.card(ctx, a)
			if err != nil {
				return false, err
			}
			ids = append(ids, id)
		}
		return false, s.Discard(ctx, ids...)

	case "reshuffle":
		return false, s.ShuffleDiscardPile(ctx)
	case "shuffle":
		return false, s.ShuffleDeck(ctx)
	case "deck":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: deck <preset>", errUsage)
		}
		return false, s.ChangeDeck(ctx, rest[0])
	case "presets":
		return false, c.listPresets()
	case "reset":
		ok, _ := pterm.DefaultInteractiveConfirm.Show("Put every card back in the deck?")
		if !ok {
			return false, nil
		}
		return false, s.ResetGame(ctx)

	case "select":
		if len(rest) != 4 {
			return false, fmt.Errorf("%w: select x1 y1 x2 y2", errUsage)
		}
		a, b, err := point(rest)
		if err != nil {
			return false, err
		}
		ids, err := s.SelectRect(ctx, selection.RectFrom(a, b))
		if err == nil {
			pterm.Info.Printfln("%d selected", len(ids))
		}
		return false, err

	case "move":
		if len(rest) != 4 {
			return false, fmt.Errorf("%w: move x1 y1 x2 y2", errUsage)
		}
		from, to, err := point(rest)
		if err != nil {
			return false, err
		}
		if err := s.BeginDrag(ctx, from); err != nil {
			return false, err
		}
		dest, err := s.EndDrag(ctx, to)
		if err == nil {
			pterm.Info.Printfln("Moved to %s", dest)
		}
		return false, err

	case "alias":
		if len(rest) == 0 {
			return false, fmt.Errorf("%w: alias <name>", errUsage)
		}
		return false, s.SetAlias(ctx, strings.Join(rest, " "))
	case "validate":
		return false, s.ValidateState(ctx)
	case "sync":
		return false, s.RequestFullState(ctx)

	default:
		return false, fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	return false, nil
}

// card resolves a row number from the last rendering or a uniqueId.
func (c *cli) card(ctx context.Context, arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	snap, err := c.s.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(snap.Cards) {
		return "", fmt.Errorf("no card in row %d", n)
	}
	return snap.Cards[n-1].UniqueID(), nil
}

func (c *cli) listPresets() error {
	data := pterm.TableData{{"ID", "Name", "Cards"}}
	for _, id := range deck.BuiltinIDs() {
		p, _ := deck.Builtin(id)
		data = append(data, []string{p.ID, p.Name, strconv.Itoa(deck.Build(p).OriginalSize())})
	}
	user, err := c.prefs.Presets()
	if err != nil {
		return err
	}
	for _, p := range user {
		data = append(data, []string{p.ID, p.Name, strconv.Itoa(deck.Build(p).OriginalSize())})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// watch prints what the session reports until ctx is done.
func (c *cli) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.s.Notices():
			switch n.Kind {
			case session.NoticeConnection:
				switch n.State {
				case conn.Reconnecting:
					pterm.Warning.Printfln("Connection lost, retry %d in %s", n.Attempt, n.Delay)
				case conn.Offline:
					pterm.Info.Println("Offline")
				}
			case session.NoticeGaveUp:
				pterm.Error.Println("Could not reconnect. Type 'reconnect' to try again.")
			case session.NoticeJoined:
				pterm.Success.Println("Joined the room.")
			case session.NoticeDeckEmpty:
				pterm.Warning.Println("The deck is empty.")
			case session.NoticeQueueOverflow:
				pterm.Warning.Println("Too many moves while offline; the oldest was dropped.")
			case session.NoticeError:
				pterm.Error.Println(n.Err)
			}
		}
	}
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// point parses "x y" or "x1 y1 x2 y2".
func point(args []string) (selection.Point, selection.Point, error) {
	v := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return selection.Point{}, selection.Point{}, fmt.Errorf("%w: %q is not a number", errUsage, a)
		}
		v[i] = f
	}
	if len(v) == 2 {
		return selection.Point{X: v[0], Y: v[1]}, selection.Point{}, nil
	}
	return selection.Point{X: v[0], Y: v[1]}, selection.Point{X: v[2], Y: v[3]}, nil
}

func (c *cli) servers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	spinner, _ := pterm.DefaultSpinner.Start("Browsing the local network...")
	found, err := discovery.Browse(ctx)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("%d found", len(found)))
	if len(found) == 0 {
		return nil
	}
	data := pterm.TableData{{"Instance", "URL"}}
	for _, a := range found {
		data = append(data, []string{a.Instance, a.URL()})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
