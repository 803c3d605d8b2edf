package session

import (
	"slices"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/conn"
	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
	"github.com/DoyleJ11/cardtable-sync/internal/reconcile"
)

func (s *Session) onConn(ev conn.Event) {
	switch ev.Kind {
	case conn.EventOpen:
		// Membership is confirmed by roomJoined, not by the open socket.
		if err := s.router.Control(s.ctx, protocol.JoinRoom{Resume: ev.Resume}); err != nil {
			s.log.Warn("send joinRoom", zap.Error(err))
		}

	case conn.EventMessage:
		if err := s.router.Dispatch(ev.Data, handler{s}); err != nil {
			s.log.Debug("dispatch", zap.Error(err))
		}

	case conn.EventState:
		s.notify(Notice{Kind: NoticeConnection, State: ev.State, Attempt: ev.Attempt, Delay: ev.Delay, Err: ev.Err})

	case conn.EventGaveUp:
		s.log.Warn("gave up reconnecting", zap.String("room", s.room), zap.Int("attempts", ev.Attempt))
		s.notify(Notice{Kind: NoticeGaveUp, State: conn.GaveUp, Attempt: ev.Attempt, Err: ev.Err})
	}
}

// handler adapts the session to router.Handler. Every method runs on the
// loop goroutine.
type handler struct{ s *Session }

func (h handler) RoomJoined(m protocol.RoomJoined) {
	s := h.s
	s.conn.Confirm()
	s.isHost = m.IsHost
	if m.Players != nil {
		s.players = slices.Clone(m.Players)
	}
	if m.GameState != nil {
		s.applySnapshot(*m.GameState)
	}

	n, err := s.router.Flush(s.ctx)
	if err != nil {
		s.log.Warn("flush after join", zap.Int("sent", n), zap.Error(err))
	}
	s.log.Info("joined room", zap.String("room", s.room), zap.Bool("host", s.isHost), zap.Int("flushed", n))

	s.broadcastRoster()
	if s.restoreDeck {
		s.restoreDeck = false
		s.restoreLastDeck()
	}
	s.notify(Notice{Kind: NoticeJoined, State: conn.Connected})
}

func (h handler) FullState(m protocol.FullState) {
	s := h.s
	s.applySnapshot(m.GameState)
	if m.Players != nil {
		s.players = slices.Clone(m.Players)
		s.notify(Notice{Kind: NoticeRoster})
	}
}

func (h handler) PlayerJoined(p protocol.Player) {
	s := h.s
	if i := s.playerIndex(p.PlayerID); i >= 0 {
		s.players[i] = p
	} else {
		s.players = append(s.players, p)
	}
	s.notify(Notice{Kind: NoticeRoster})
}

func (h handler) PlayerLeft(playerID string) {
	s := h.s
	if i := s.playerIndex(playerID); i >= 0 {
		s.players = slices.Delete(s.players, i, i+1)
		s.notify(Notice{Kind: NoticeRoster})
	}
}

func (h handler) Game(m protocol.GameMessage, fromSelf bool) {
	s := h.s
	switch p := m.Payload.(type) {
	case protocol.UpdateCardState:
		s.applyCards(p.CardStates)

	case protocol.UpdateDeck:
		s.applyDeck(p)

	case protocol.ShuffleDiscardPile:
		// Authorities that relay this verbatim leave the return to clients.
		var recs []protocol.CardState
		pile := s.rec.Discard()
		for _, id := range p.UniqueIDs {
			if slices.Contains(pile, id) {
				recs = append(recs, protocol.Discarded(id, m.Timestamp))
			}
		}
		if len(recs) > 0 {
			s.applyCards(recs)
		}

	case protocol.PlayerList:
		changed := false
		for _, pl := range p.Players {
			if i := s.playerIndex(pl.PlayerID); i >= 0 && pl.PlayerName != "" {
				s.players[i].PlayerName = pl.PlayerName
				changed = true
			}
		}
		if changed {
			s.notify(Notice{Kind: NoticeRoster})
		}

	case protocol.StateValidation:
		if fromSelf || p.PlayerID == s.playerID {
			return
		}
		if reconcile.NeedsCorrection(s.rec.Validation(), p) {
			s.log.Info("state drift detected", zap.String("peer", p.PlayerID))
			if err := s.game(protocol.RequestStateCorrection{FromPlayerID: p.PlayerID}); err != nil {
				s.log.Debug("request correction", zap.Error(err))
			}
		}

	case protocol.RequestStateCorrection:
		if fromSelf || p.FromPlayerID != s.playerID {
			return
		}
		recs := s.rec.Records()
		if len(recs) == 0 {
			return
		}
		s.log.Info("rebroadcasting local state", zap.Int("cards", len(recs)))
		if err := s.game(protocol.UpdateCardState{CardStates: recs}); err != nil {
			s.log.Debug("rebroadcast", zap.Error(err))
		}
	}
}

func (h handler) GameReset(m protocol.GameReset) {
	s := h.s
	s.sel.Clear()
	if m.GameState != nil {
		s.applySnapshot(*m.GameState)
		return
	}
	s.rec.Clear()
	clear(s.inflight)
	s.requestFullState()
	s.notify(Notice{Kind: NoticeTable})
}

func (h handler) Error(e *protocol.Error) {
	s := h.s
	policy := e.Code.Policy()
	s.log.Info("authority error", zap.String("code", string(e.Code)), zap.String("message", e.Message), zap.Stringer("policy", policy))

	switch policy {
	case protocol.PolicyResync:
		clear(s.inflight)
		s.requestFullState()
		return
	case protocol.PolicyNotify:
		clear(s.inflight)
		s.notify(Notice{Kind: NoticeDeckEmpty, State: s.conn.State(), Err: e})
		return
	case protocol.PolicyOffline:
		s.conn.Fail(false, e)
		s.room = ""
	case protocol.PolicyReconnect:
		s.conn.Fail(true, e)
	}
	s.notify(Notice{Kind: NoticeError, State: s.conn.State(), Err: e})
}

func (s *Session) applyCards(recs []protocol.CardState) {
	res := s.rec.ApplyBatch(recs)
	for _, id := range res.Created {
		delete(s.inflight, id)
	}
	if len(res.Missing) > 0 {
		// A card we cannot materialize means our projection is behind.
		s.requestFullState()
	}
	s.forgetSelection()
	s.notify(Notice{Kind: NoticeTable})
}

func (s *Session) applySnapshot(gs protocol.GameState) {
	s.rec.ApplySnapshot(gs)
	clear(s.inflight)
	s.forgetSelection()
	s.notify(Notice{Kind: NoticeTable})
}

func (s *Session) applyDeck(p protocol.UpdateDeck) {
	cur := s.rec.Deck()
	if p.DeckID == cur.ID {
		orig := p.OriginalDeckSize
		if orig <= 0 {
			orig = cur.OriginalSize()
		}
		s.rec.ReplaceDeck(deck.FromExport(p.DeckID, p.DeckData, orig))
	} else {
		s.rec.Clear()
		s.sel.Clear()
		s.rec.ReplaceDeck(deck.FromExport(p.DeckID, p.DeckData, p.OriginalDeckSize))
	}
	clear(s.inflight)
	s.notify(Notice{Kind: NoticeTable})
}

func (s *Session) forgetSelection() {
	s.sel.Forget(func(id string) bool {
		c, ok := s.rec.Card(id)
		return ok && c.Visible && c.Location != protocol.LocationDiscard
	})
}

func (s *Session) playerIndex(id string) int {
	return slices.IndexFunc(s.players, func(p protocol.Player) bool { return p.PlayerID == id })
}

func (s *Session) broadcastRoster() {
	players := slices.Clone(s.players)
	if i := s.playerIndex(s.playerID); i >= 0 {
		players[i].PlayerName = s.alias
	} else {
		players = append(players, protocol.Player{PlayerID: s.playerID, PlayerName: s.alias})
	}
	if err := s.game(protocol.PlayerList{Players: players}); err != nil {
		s.log.Debug("broadcast roster", zap.Error(err))
	}
}

// restoreLastDeck switches an untouched room to the preset this user last
// played with. Only the host does it.
func (s *Session) restoreLastDeck() {
	if s.prefs == nil || !s.isHost || s.rec.Len() > 0 {
		return
	}
	last, err := s.prefs.LastDeck()
	if err != nil || last == "" || last == s.rec.Deck().ID {
		return
	}
	if err := s.changeDeck(last); err != nil {
		s.log.Info("last deck not restored", zap.String("deck", last), zap.Error(err))
	}
}
