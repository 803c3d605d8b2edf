package lobby

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/engine"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	PlayerID string
	Msg      protocol.ClientMessage
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	PlayerID   string
	PlayerName string
	Resume     bool
	Outbox     chan protocol.ServerFrame // where this player wants to receive frames
}

func (Join) isLobbyMsg() {}

type Leave struct {
	PlayerID string
	// Outbox, when set, must match the current one; a stale socket cannot
	// remove a player that has already rejoined.
	Outbox chan protocol.ServerFrame
}

func (Leave) isLobbyMsg() {}

// Shutdown stops the lobby. Done, when set, is closed once the lobby has
// stopped and will not persist again.
type Shutdown struct {
	Done chan struct{}
}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Version    uint64
	NumClients int
	Host       string
	Players    []protocol.Player
	State      engine.State
}

// Store persists room state after every accepted change.
type Store interface {
	Save(ctx context.Context, code string, p engine.Persisted) error
}

// Lobby is the single sequencer of one room. Everything that touches the
// table goes through its inbox.
type Lobby struct {
	code    string
	inbox   chan Msg
	state   engine.State
	clients map[string]chan protocol.ServerFrame
	players []protocol.Player
	host    string
	store   Store
	log     *zap.Logger
	now     func() int64
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewLobby(parent context.Context, code string, initial engine.State, store Store, logger *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Lobby{
		code:    code,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		clients: make(map[string]chan protocol.ServerFrame),
		store:   store,
		log:     logger.With(zap.String("room", code)),
		now:     func() int64 { return time.Now().UnixMilli() },
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg)

			case Leave:
				if msg.Outbox != nil && l.clients[msg.PlayerID] != msg.Outbox {
					break
				}
				l.removePlayer(msg.PlayerID)

			case FromClient:
				if _, ok := l.clients[msg.PlayerID]; !ok {
					l.log.Debug("message from unknown player", zap.String("player", msg.PlayerID))
					break
				}
				l.handle(msg.PlayerID, msg.Msg)

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{
					Version:    l.state.Seq,
					NumClients: len(l.clients),
					Host:       l.host,
					Players:    slices.Clone(l.players),
					State:      l.state.Clone(),
				}

			case Shutdown:
				l.shutdown()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) {
	if old, ok := l.clients[msg.PlayerID]; ok && old != msg.Outbox {
		close(old)
	}
	l.clients[msg.PlayerID] = msg.Outbox
	if i := l.playerIndex(msg.PlayerID); i >= 0 {
		l.players[i].PlayerName = msg.PlayerName
	} else {
		l.players = append(l.players, protocol.Player{PlayerID: msg.PlayerID, PlayerName: msg.PlayerName})
	}
	if l.host == "" {
		l.host = msg.PlayerID
	}
	l.log.Info("player joined", zap.String("player", msg.PlayerID), zap.Bool("resume", msg.Resume))

	gs := l.state.GameState()
	l.sendTo(msg.PlayerID, protocol.RoomJoinedFrame(l.host == msg.PlayerID, &gs, slices.Clone(l.players)))
	l.broadcastExcept(msg.PlayerID, protocol.PlayerJoinedFrame(protocol.Player{PlayerID: msg.PlayerID, PlayerName: msg.PlayerName}))
}

func (l *Lobby) removePlayer(id string) {
	if ch, ok := l.clients[id]; ok {
		close(ch)
		delete(l.clients, id)
	}
	i := l.playerIndex(id)
	if i < 0 {
		return
	}
	l.players = slices.Delete(l.players, i, i+1)
	if l.host == id {
		l.host = ""
		if len(l.players) > 0 {
			l.host = l.players[0].PlayerID
		}
	}
	l.log.Info("player left", zap.String("player", id))
	l.broadcast(protocol.PlayerLeftFrame(id))
}

func (l *Lobby) handle(playerID string, m protocol.ClientMessage) {
	switch msg := m.(type) {
	case protocol.JoinRequest:
		// Already joined on this socket.

	case protocol.FullStateRequest:
		l.sendTo(playerID, protocol.FullStateFrame(l.state.GameState(), slices.Clone(l.players)))

	case protocol.ResetRequest:
		l.apply(playerID, engine.Command{Type: engine.CmdReset})

	case protocol.GameProposal:
		switch p := msg.Payload.(type) {
		case protocol.UpdateCardState:
			l.apply(playerID, engine.Command{Type: engine.CmdUpdateCardState, Cards: p.CardStates})
		case protocol.UpdateDeck:
			l.apply(playerID, engine.Command{
				Type:             engine.CmdUpdateDeck,
				DeckID:           p.DeckID,
				DeckData:         p.DeckData,
				OriginalDeckSize: p.OriginalDeckSize,
			})
		case protocol.ShuffleDiscardPile:
			l.apply(playerID, engine.Command{Type: engine.CmdShuffleDiscard, UniqueIDs: p.UniqueIDs})
		case protocol.PlayerList:
			for _, pl := range p.Players {
				if pl.PlayerID == playerID {
					l.rename(playerID, protocol.CleanName(pl.PlayerName))
				}
			}
			l.relay(playerID, p)
		default:
			// stateValidation and requestStateCorrection are peer traffic.
			l.relay(playerID, p)
		}
	}
}

func (l *Lobby) apply(playerID string, cmd engine.Command) {
	cmd.PlayerID = playerID
	cmd.Now = l.now()
	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		l.log.Debug("command rejected", zap.String("player", playerID), zap.String("cmd", string(cmd.Type)), zap.Error(err))
		l.sendTo(playerID, protocol.ErrorFrame(toProtocolError(err)))
		return
	}
	l.state = next

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtCardsUpdated:
			l.relay(playerID, protocol.UpdateCardState{CardStates: ev.Cards})
		case engine.EvtDeckUpdated:
			l.relay(playerID, protocol.UpdateDeck{DeckID: ev.DeckID, DeckData: ev.DeckData, OriginalDeckSize: ev.OriginalDeckSize})
		case engine.EvtGameReset:
			gs := l.state.GameState()
			l.broadcast(protocol.GameResetFrame(&gs))
		}
	}
	l.persist()
}

// relay broadcasts a game payload to everyone, the sender included.
func (l *Lobby) relay(sentBy string, g protocol.Game) {
	f, err := protocol.GameFrame(g, sentBy, l.now())
	if err != nil {
		l.log.Error("encode broadcast", zap.Error(err))
		return
	}
	l.broadcast(f)
}

func (l *Lobby) persist() {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(l.ctx, 2*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, l.code, l.state.Persist()); err != nil {
		l.log.Warn("persist room", zap.Error(err))
	}
}

func (l *Lobby) rename(playerID, name string) {
	if i := l.playerIndex(playerID); i >= 0 && name != "" {
		l.players[i].PlayerName = name
	}
}

func (l *Lobby) playerIndex(id string) int {
	return slices.IndexFunc(l.players, func(p protocol.Player) bool { return p.PlayerID == id })
}

func toProtocolError(err error) *protocol.Error {
	switch {
	case errors.Is(err, engine.ErrDeckEmpty):
		return protocol.NewError(protocol.CodeDeckEmpty, "the deck is empty")
	case errors.Is(err, engine.ErrInvalidState):
		return protocol.NewError(protocol.CodeInvalidState, "%v", err)
	default:
		return protocol.NewError(protocol.CodeUnknown, "%v", err)
	}
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // Tell client no more frames
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) sendTo(id string, f protocol.ServerFrame) {
	ch, ok := l.clients[id]
	if !ok {
		return
	}
	select {
	case ch <- f:
	default:
		l.removePlayer(id)
	}
}

func (l *Lobby) broadcastExcept(skip string, f protocol.ServerFrame) {
	var slow []string
	for id, ch := range l.clients {
		if id == skip {
			continue
		}
		select {
		case ch <- f:
			//ok
		default:
			// Client is slow/full - drop them.
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		l.log.Warn("dropping slow client", zap.String("player", id))
		l.removePlayer(id)
	}
}

func (l *Lobby) broadcast(f protocol.ServerFrame) { l.broadcastExcept("", f) }

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }
