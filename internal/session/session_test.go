package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/cardtable-sync/internal/conn"
	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/engine"
	"github.com/DoyleJ11/cardtable-sync/internal/prefs"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

type fakeTransport struct {
	events chan conn.Event

	mu         sync.Mutex
	state      conn.State
	room       string
	sent       [][]byte
	fails      []bool
	confirms   int
	reconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan conn.Event, 64)}
}

func (f *fakeTransport) Events() <-chan conn.Event { return f.events }

func (f *fakeTransport) State() conn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Open(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room = room
	f.state = conn.Connecting
	return nil
}

func (f *fakeTransport) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.state = conn.Connecting
	return nil
}

func (f *fakeTransport) Confirm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	f.state = conn.Connected
}

func (f *fakeTransport) Fail(retry bool, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = append(f.fails, retry)
	if retry {
		f.state = conn.Reconnecting
	} else {
		f.state = conn.Offline
	}
}

func (f *fakeTransport) Send(_ context.Context, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == conn.Offline || f.state == conn.Reconnecting {
		return conn.ErrNotConnected
	}
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

// drop simulates a lost socket.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.state = conn.Reconnecting
	f.mu.Unlock()
}

func (f *fakeTransport) open(resume bool) {
	f.mu.Lock()
	f.state = conn.Connecting
	f.mu.Unlock()
	f.events <- conn.Event{Kind: conn.EventOpen, Resume: resume}
}

func (f *fakeTransport) push(t *testing.T, frame protocol.ServerFrame) {
	t.Helper()
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	f.events <- conn.Event{Kind: conn.EventMessage, Data: b}
}

func (f *fakeTransport) frames(t *testing.T) []protocol.ClientFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ClientFrame, 0, len(f.sent))
	for _, b := range f.sent {
		var cf protocol.ClientFrame
		require.NoError(t, json.Unmarshal(b, &cf))
		out = append(out, cf)
	}
	return out
}

func (f *fakeTransport) failCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.fails...)
}

func (f *fakeTransport) confirmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirms
}

// count returns how many sent frames match.
func count(frames []protocol.ClientFrame, match func(protocol.ClientFrame) bool) int {
	n := 0
	for _, f := range frames {
		if match(f) {
			n++
		}
	}
	return n
}

func ofType(typ string) func(protocol.ClientFrame) bool {
	return func(f protocol.ClientFrame) bool { return f.Type == typ }
}

func ofGame(gameType string) func(protocol.ClientFrame) bool {
	return func(f protocol.ClientFrame) bool {
		return f.Type == protocol.TypeGameMessage && f.Data != nil && f.Data.Type == gameType
	}
}

// waitSent blocks until at least n frames match and returns the last one.
func waitSent(t *testing.T, ft *fakeTransport, n int, match func(protocol.ClientFrame) bool) protocol.ClientFrame {
	t.Helper()
	var last protocol.ClientFrame
	require.Eventually(t, func() bool {
		got := 0
		for _, f := range ft.frames(t) {
			if match(f) {
				got++
				last = f
			}
		}
		return got >= n
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func payload(t *testing.T, f protocol.ClientFrame) protocol.Game {
	t.Helper()
	require.NotNil(t, f.Data)
	g, err := protocol.DecodeGame(*f.Data)
	require.NoError(t, err)
	return g
}

func waitNotice(t *testing.T, s *Session, kind NoticeKind) Notice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-s.Notices():
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notice", kind)
			return Notice{}
		}
	}
}

func newTestSession(t *testing.T, p Prefs) (*Session, *fakeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Alias = "Ada"
	cfg.FlipDelay = 0
	ft := newFakeTransport()
	s := New(cfg, ft, p, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, ft
}

func threeCards() engine.State {
	p := deck.Preset{ID: "three", Name: "Three"}
	for _, title := range []string{"A", "B", "C"} {
		p.Cards = append(p.Cards, deck.Entry{Template: deck.Template{Title: title}, Count: 1})
	}
	return engine.NewState(p)
}

// onTable deals the top card face up onto the table at (x, y).
func onTable(t *testing.T, st engine.State, x, y float64) (engine.State, string) {
	t.Helper()
	top, err := st.Deck.Peek()
	require.NoError(t, err)
	_, next, err := engine.Apply(st, engine.Command{
		Type:     engine.CmdUpdateCardState,
		PlayerID: "B",
		Now:      1,
		Cards: []protocol.CardState{{
			UniqueID:  top.UniqueID,
			Location:  protocol.LocationTable,
			Position:  protocol.At(x, y),
			PrivateTo: protocol.Public(),
		}},
	})
	require.NoError(t, err)
	return next, top.UniqueID
}

// joinWith runs the whole handshake against st and returns the local playerId.
func joinWith(t *testing.T, s *Session, ft *fakeTransport, st engine.State, isHost bool) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Join(ctx, "room01"))
	ft.open(false)
	join := waitSent(t, ft, 1, ofType(protocol.TypeJoinRoom))

	gs := st.GameState()
	confirms := ft.confirmCount()
	ft.push(t, protocol.RoomJoinedFrame(isHost, &gs, []protocol.Player{{PlayerID: join.PlayerID, PlayerName: "Ada"}}))
	require.Eventually(t, func() bool { return ft.confirmCount() > confirms }, 2*time.Second, 5*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, conn.Connected, snap.State)
	return join.PlayerID
}

func TestJoinHandshake(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Join(ctx, " room01 "))
	ft.open(false)
	join := waitSent(t, ft, 1, ofType(protocol.TypeJoinRoom))
	assert.Equal(t, "ROOM01", join.RoomCode)
	assert.Equal(t, "Ada", join.PlayerName)
	assert.NotEmpty(t, join.PlayerID)
	assert.False(t, join.Resume)

	gs := threeCards().GameState()
	ft.push(t, protocol.RoomJoinedFrame(true, &gs, []protocol.Player{{PlayerID: join.PlayerID, PlayerName: "Ada"}}))
	waitNotice(t, s, NoticeJoined)

	// The join is followed by a full-state request and the roster.
	waitSent(t, ft, 1, ofType(protocol.TypeRequestFullState))
	roster := waitSent(t, ft, 1, ofGame(protocol.GamePlayerList))
	list := payload(t, roster).(protocol.PlayerList)
	require.Len(t, list.Players, 1)
	assert.Equal(t, "Ada", list.Players[0].PlayerName)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.IsHost)
	assert.Equal(t, "ROOM01", snap.Room)
	assert.Equal(t, 3, snap.DeckSize)
	assert.Equal(t, 3, snap.OriginalDeckSize)
	assert.Zero(t, snap.Pending)
}

func TestResumeKeepsPlayerID(t *testing.T) {
	s, ft := newTestSession(t, nil)
	id := joinWith(t, s, ft, threeCards(), true)

	ft.drop()
	ft.open(true)
	again := waitSent(t, ft, 2, ofType(protocol.TypeJoinRoom))
	assert.True(t, again.Resume)
	assert.Equal(t, id, again.PlayerID)
}

func TestProposalsQueuedUntilRejoined(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	joinWith(t, s, ft, threeCards(), true)

	ft.drop()
	first, err := s.Deal(ctx, DealOptions{})
	require.NoError(t, err)
	second, err := s.Deal(ctx, DealOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "in-flight cards are not dealt twice")

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Pending)
	assert.Zero(t, count(ft.frames(t), ofGame(protocol.GameUpdateCardState)))

	ft.open(true)
	gs := threeCards().GameState()
	ft.push(t, protocol.RoomJoinedFrame(true, &gs, nil))
	waitSent(t, ft, 2, ofGame(protocol.GameUpdateCardState))

	// Queued proposals leave before the full-state request that follows them.
	frames := ft.frames(t)
	lastDeal, lastFull := -1, -1
	for i, f := range frames {
		switch {
		case ofGame(protocol.GameUpdateCardState)(f):
			lastDeal = i
		case f.Type == protocol.TypeRequestFullState:
			lastFull = i
		}
	}
	assert.Less(t, lastDeal, lastFull)

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Pending)
}

func TestQueueOverflowRaisesNotice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlipDelay = 0
	cfg.QueueLimit = 1
	ft := newFakeTransport()
	s := New(cfg, ft, nil, nil)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	joinWith(t, s, ft, threeCards(), true)

	ft.drop()
	_, err := s.Deal(ctx, DealOptions{})
	require.NoError(t, err)
	_, err = s.Deal(ctx, DealOptions{})
	require.NoError(t, err, "an eviction is a notice, not a failed action")

	n := waitNotice(t, s, NoticeQueueOverflow)
	assert.ErrorIs(t, n.Err, ErrQueueOverflow)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, 1, snap.Evicted)
}

func TestDefaultQueueKeepsEverything(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	joinWith(t, s, ft, engine.NewEmptyState(), true)

	ft.drop()
	for i := 0; i < 300; i++ {
		require.NoError(t, s.ValidateState(ctx))
	}
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 300, snap.Pending)
	assert.Zero(t, snap.Evicted)
}

func TestDealOptions(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	joinWith(t, s, ft, threeCards(), true)

	_, err := s.Deal(ctx, DealOptions{})
	require.NoError(t, err)
	hand := payload(t, waitSent(t, ft, 1, ofGame(protocol.GameUpdateCardState))).(protocol.UpdateCardState)
	require.Len(t, hand.CardStates, 1)
	assert.False(t, hand.CardStates[0].PrivateTo.Set, "the authority decides the hand")
	assert.Empty(t, hand.CardStates[0].Location)

	_, err = s.Deal(ctx, DealOptions{ToTable: true, Position: &protocol.Position{X: 40, Y: 50}, Flipped: true})
	require.NoError(t, err)
	table := payload(t, waitSent(t, ft, 2, ofGame(protocol.GameUpdateCardState))).(protocol.UpdateCardState)
	rec := table.CardStates[0]
	assert.Equal(t, protocol.LocationTable, rec.Location)
	assert.True(t, rec.PrivateTo.Set)
	assert.Empty(t, rec.PrivateTo.ID)
	assert.Equal(t, protocol.Position{X: 40, Y: 50}, *rec.Position)
	assert.True(t, *rec.IsFlipped)
}

func TestDealEmptyDeck(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	joinWith(t, s, ft, engine.NewState(deck.Preset{ID: "none"}), true)
	before := count(ft.frames(t), ofType(protocol.TypeRequestFullState))

	_, err := s.Deal(ctx, DealOptions{})
	require.ErrorIs(t, err, deck.ErrEmpty)
	waitSent(t, ft, before+1, ofType(protocol.TypeRequestFullState))
}

func TestNotJoined(t *testing.T) {
	s, _ := newTestSession(t, nil)
	ctx := context.Background()

	_, err := s.Deal(ctx, DealOptions{})
	require.ErrorIs(t, err, ErrNotJoined)
	require.ErrorIs(t, s.ShuffleDiscardPile(ctx), ErrNotJoined)
	require.ErrorIs(t, s.Reconnect(ctx), ErrNotJoined)
	require.ErrorIs(t, s.Join(ctx, "   "), ErrNotJoined)
}

func TestErrorPolicy(t *testing.T) {
	tests := []struct {
		name      string
		code      protocol.ErrorCode
		wantFail  []bool
		resync    bool
		notice    NoticeKind
		roomClear bool
	}{
		{name: "invalid state resyncs", code: protocol.CodeInvalidState, resync: true},
		{name: "room not found goes offline", code: protocol.CodeRoomNotFound, wantFail: []bool{false}, notice: NoticeError, roomClear: true},
		{name: "not in room goes offline", code: protocol.CodePlayerNotInRoom, wantFail: []bool{false}, notice: NoticeError, roomClear: true},
		{name: "deck empty notifies", code: protocol.CodeDeckEmpty, notice: NoticeDeckEmpty},
		{name: "unknown reconnects", code: protocol.CodeUnknown, wantFail: []bool{true}, notice: NoticeError},
		{name: "unrecognized code reconnects", code: "SERVER_BUSY", wantFail: []bool{true}, notice: NoticeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ft := newTestSession(t, nil)
			ctx := context.Background()
			joinWith(t, s, ft, threeCards(), true)
			before := count(ft.frames(t), ofType(protocol.TypeRequestFullState))

			ft.push(t, protocol.ErrorFrame(protocol.NewError(tt.code, "boom")))

			if tt.resync {
				waitSent(t, ft, before+1, ofType(protocol.TypeRequestFullState))
			} else {
				n := waitNotice(t, s, tt.notice)
				var pe *protocol.Error
				require.True(t, errors.As(n.Err, &pe))
				assert.Equal(t, tt.code, pe.Code)
			}

			snap, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFail, ft.failCalls())
			if tt.roomClear {
				assert.Empty(t, snap.Room)
			} else {
				assert.Equal(t, "ROOM01", snap.Room)
			}
		})
	}
}

func TestCorrectionRebroadcast(t *testing.T) {
	s, ft := newTestSession(t, nil)
	st, id := onTable(t, threeCards(), 100, 100)
	self := joinWith(t, s, ft, st, false)

	f, err := protocol.GameFrame(protocol.RequestStateCorrection{FromPlayerID: self}, "B", 10)
	require.NoError(t, err)
	ft.push(t, f)

	sent := waitSent(t, ft, 1, ofGame(protocol.GameUpdateCardState))
	recs := payload(t, sent).(protocol.UpdateCardState).CardStates
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].UniqueID)
	require.NotNil(t, recs[0].Card, "rebroadcast records are complete")
}

func TestDriftRequestsCorrection(t *testing.T) {
	s, ft := newTestSession(t, nil)
	joinWith(t, s, ft, threeCards(), false)

	f, err := protocol.GameFrame(protocol.StateValidation{Hash: "feed", PlayerID: "B", Timestamp: 1 << 40, CardCount: 4}, "B", 10)
	require.NoError(t, err)
	ft.push(t, f)

	sent := waitSent(t, ft, 1, ofGame(protocol.GameRequestStateCorrection))
	assert.Equal(t, "B", payload(t, sent).(protocol.RequestStateCorrection).FromPlayerID)
}

func TestValidateStateBroadcastsHash(t *testing.T) {
	s, ft := newTestSession(t, nil)
	st, _ := onTable(t, threeCards(), 10, 10)
	self := joinWith(t, s, ft, st, true)

	require.NoError(t, s.ValidateState(context.Background()))
	v := payload(t, waitSent(t, ft, 1, ofGame(protocol.GameStateValidation))).(protocol.StateValidation)
	assert.Equal(t, self, v.PlayerID)
	assert.Equal(t, 1, v.CardCount)
	assert.NotEmpty(t, v.Hash)
}

func TestFlip(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	st, id := onTable(t, threeCards(), 10, 10)
	joinWith(t, s, ft, st, true)

	require.ErrorIs(t, s.Flip(ctx, "nope"), ErrUnknownCard)
	require.NoError(t, s.Flip(ctx, id))

	rec := payload(t, waitSent(t, ft, 1, ofGame(protocol.GameUpdateCardState))).(protocol.UpdateCardState).CardStates[0]
	assert.Equal(t, id, rec.UniqueID)
	assert.True(t, *rec.IsFlipped)
	assert.Nil(t, rec.Position, "a flip does not move the card")
}

func TestInboundCardsUpdateTable(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	st := threeCards()
	joinWith(t, s, ft, st, true)

	next, id := onTable(t, st, 300, 200)
	f, err := protocol.GameFrame(protocol.UpdateCardState{CardStates: []protocol.CardState{next.Cards[id]}}, "B", 5)
	require.NoError(t, err)
	ft.push(t, f)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		c, ok := snap.Card(id)
		return ok && c.Position == protocol.Position{X: 300, Y: 200} && snap.DeckSize == 2
	}, 2*time.Second, 5*time.Millisecond)

	// A discarded sentinel returns the card to the deck.
	f, err = protocol.GameFrame(protocol.UpdateCardState{CardStates: []protocol.CardState{protocol.Discarded(id, 6)}}, "B", 6)
	require.NoError(t, err)
	ft.push(t, f)
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		_, ok := snap.Card(id)
		return !ok && snap.DeckSize == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRosterUpdates(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	joinWith(t, s, ft, threeCards(), true)

	ft.push(t, protocol.PlayerJoinedFrame(protocol.Player{PlayerID: "B", PlayerName: "Bo"}))
	f, err := protocol.GameFrame(protocol.PlayerList{Players: []protocol.Player{{PlayerID: "B", PlayerName: "Bea"}}}, "B", 3)
	require.NoError(t, err)
	ft.push(t, f)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		return len(snap.Players) == 2 && snap.Players[1].PlayerName == "Bea"
	}, 2*time.Second, 5*time.Millisecond)

	ft.push(t, protocol.PlayerLeftFrame("B"))
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		return len(snap.Players) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSetAliasPersists(t *testing.T) {
	p, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	s, ft := newTestSession(t, p)
	ctx := context.Background()
	joinWith(t, s, ft, threeCards(), true)

	require.ErrorIs(t, s.SetAlias(ctx, " \t "), ErrInvalidAlias)
	require.NoError(t, s.SetAlias(ctx, "  Grace   Hopper "))

	saved, err := p.Alias()
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", saved)

	// One roster after the join, one after the rename.
	roster := waitSent(t, ft, 2, ofGame(protocol.GamePlayerList))
	list := payload(t, roster).(protocol.PlayerList)
	require.Len(t, list.Players, 1)
	assert.Equal(t, "Grace Hopper", list.Players[0].PlayerName)
}

func TestHostRestoresLastDeck(t *testing.T) {
	p, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	require.NoError(t, p.SetLastDeck(deck.PresetBlank))

	s, ft := newTestSession(t, p)
	joinWith(t, s, ft, threeCards(), true)

	upd := payload(t, waitSent(t, ft, 1, ofGame(protocol.GameUpdateDeck))).(protocol.UpdateDeck)
	assert.Equal(t, deck.PresetBlank, upd.DeckID)
	assert.NotEmpty(t, upd.DeckData.Cards)
}

func TestGameResetWithoutStateRequestsFullState(t *testing.T) {
	s, ft := newTestSession(t, nil)
	ctx := context.Background()
	st, _ := onTable(t, threeCards(), 10, 10)
	joinWith(t, s, ft, st, true)
	before := count(ft.frames(t), ofType(protocol.TypeRequestFullState))

	ft.push(t, protocol.GameResetFrame(nil))
	waitSent(t, ft, before+1, ofType(protocol.TypeRequestFullState))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Cards)
}

func TestCloseStopsSession(t *testing.T) {
	s, _ := newTestSession(t, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
