package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/engine"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan protocol.ServerFrame, within time.Duration) protocol.ServerFrame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return protocol.ServerFrame{} // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan protocol.ServerFrame, within time.Duration) {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, but got: %+v", within, f)
	case <-time.After(within):
	}
}

func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func cardsIn(t *testing.T, f protocol.ServerFrame) protocol.UpdateCardState {
	t.Helper()
	require.Equal(t, protocol.TypeGameMessage, f.Type)
	require.NotNil(t, f.Data)
	g, err := protocol.DecodeGame(*f.Data)
	require.NoError(t, err)
	u, ok := g.(protocol.UpdateCardState)
	require.True(t, ok, "want updateCardState, got %T", g)
	return u
}

func threeCards() engine.State {
	return engine.NewState(deck.Preset{ID: "three", Name: "Three", Cards: []deck.Entry{
		{Template: deck.Template{Title: "A"}, Count: 1},
		{Template: deck.Template{Title: "B"}, Count: 1},
		{Template: deck.Template{Title: "C"}, Count: 1},
	}})
}

func join(t *testing.T, l *Lobby, id string, buf int) chan protocol.ServerFrame {
	t.Helper()
	out := make(chan protocol.ServerFrame, buf)
	l.Inbox() <- Join{PlayerID: id, PlayerName: "player " + id, Outbox: out}
	return out
}

func dealProposal(player, uniqueID string) FromClient {
	return FromClient{PlayerID: player, Msg: protocol.GameProposal{
		PlayerID: player,
		Payload:  protocol.UpdateCardState{CardStates: []protocol.CardState{{UniqueID: uniqueID}}},
	}}
}

type fakeStore struct {
	mu    sync.Mutex
	saves []engine.Persisted
}

func (s *fakeStore) Save(_ context.Context, _ string, p engine.Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, p)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func TestLobby_JoinSendsRoomJoinedAndAnnounces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	a := join(t, l, "A", 8)
	first := recvFrame(t, a, 100*time.Millisecond)
	require.Equal(t, protocol.TypeRoomJoined, first.Type)
	require.True(t, first.IsHost)
	require.NotNil(t, first.GameState)
	require.Len(t, first.GameState.DeckData.Cards, 3)

	b := join(t, l, "B", 8)
	second := recvFrame(t, b, 100*time.Millisecond)
	require.False(t, second.IsHost)
	require.Len(t, second.Players, 2)

	announced := recvFrame(t, a, 100*time.Millisecond)
	require.Equal(t, protocol.TypePlayerJoined, announced.Type)
	require.Equal(t, "B", announced.PlayerID)
	recvNoFrame(t, b, 30*time.Millisecond)
}

func TestLobby_DealBroadcastsVersionedRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &fakeStore{}
	l := NewLobby(ctx, "ROOM01", threeCards(), store, nil)

	a := join(t, l, "A", 8)
	recvFrame(t, a, 100*time.Millisecond)
	b := join(t, l, "B", 8)
	recvFrame(t, b, 100*time.Millisecond)
	recvFrame(t, a, 100*time.Millisecond) // playerJoined

	top, err := recvView(t, l).State.Deck.Peek()
	require.NoError(t, err)
	l.Inbox() <- dealProposal("A", top.UniqueID)

	for _, ch := range []chan protocol.ServerFrame{a, b} {
		f := recvFrame(t, ch, 100*time.Millisecond)
		require.Equal(t, "A", f.Data.SentBy)
		u := cardsIn(t, f)
		require.Len(t, u.CardStates, 1)
		rec := u.CardStates[0]
		require.Equal(t, top.UniqueID, rec.UniqueID)
		require.Equal(t, protocol.PrivateTo("A"), rec.PrivateTo)
		require.EqualValues(t, 1, rec.Version)
	}

	view := recvView(t, l)
	if view.Version != 1 {
		t.Fatalf("after deal: want version=1, got %d", view.Version)
	}
	require.Equal(t, 2, view.State.Deck.Len())
	require.Equal(t, 1, store.count())
}

func TestLobby_RejectionGoesToSenderOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	a := join(t, l, "A", 8)
	recvFrame(t, a, 100*time.Millisecond)
	b := join(t, l, "B", 8)
	recvFrame(t, b, 100*time.Millisecond)
	recvFrame(t, a, 100*time.Millisecond)

	l.Inbox() <- dealProposal("B", "ffffffffffffffff_0")
	f := recvFrame(t, b, 100*time.Millisecond)
	require.Equal(t, protocol.TypeError, f.Type)
	require.Equal(t, protocol.CodeInvalidState, f.Code)
	recvNoFrame(t, a, 30*time.Millisecond)
	require.EqualValues(t, 0, recvView(t, l).Version)
}

func TestLobby_DeckEmptyError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	a := join(t, l, "A", 16)
	recvFrame(t, a, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		top, err := recvView(t, l).State.Deck.Peek()
		require.NoError(t, err)
		l.Inbox() <- dealProposal("A", top.UniqueID)
		recvFrame(t, a, 100*time.Millisecond)
	}

	l.Inbox() <- dealProposal("A", "ffffffffffffffff_0")
	f := recvFrame(t, a, 100*time.Millisecond)
	require.Equal(t, protocol.CodeDeckEmpty, f.Code)
}

func TestLobby_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	fast := join(t, l, "A", 16)
	recvFrame(t, fast, 100*time.Millisecond)
	slow := join(t, l, "B", 1) // roomJoined fills the buffer
	recvFrame(t, fast, 100*time.Millisecond)

	top, err := recvView(t, l).State.Deck.Peek()
	require.NoError(t, err)
	l.Inbox() <- dealProposal("A", top.UniqueID)

	view := recvView(t, l)
	if view.NumClients != 1 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
	require.Len(t, view.Players, 1)

	// The slow outbox is closed after its buffered frame.
	recvFrame(t, slow, 100*time.Millisecond)
	_, ok := <-slow
	require.False(t, ok)
}

func TestLobby_HostMigratesOnLeave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	a := join(t, l, "A", 8)
	recvFrame(t, a, 100*time.Millisecond)
	b := join(t, l, "B", 8)
	recvFrame(t, b, 100*time.Millisecond)

	l.Inbox() <- Leave{PlayerID: "A"}
	left := recvFrame(t, b, 100*time.Millisecond)
	require.Equal(t, protocol.TypePlayerLeft, left.Type)
	require.Equal(t, "A", left.PlayerID)
	require.Equal(t, "B", recvView(t, l).Host)
}

func TestLobby_ResetBroadcastsGameReset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	a := join(t, l, "A", 8)
	recvFrame(t, a, 100*time.Millisecond)
	top, err := recvView(t, l).State.Deck.Peek()
	require.NoError(t, err)
	l.Inbox() <- dealProposal("A", top.UniqueID)
	recvFrame(t, a, 100*time.Millisecond)

	l.Inbox() <- FromClient{PlayerID: "A", Msg: protocol.ResetRequest{PlayerID: "A"}}
	f := recvFrame(t, a, 100*time.Millisecond)
	require.Equal(t, protocol.TypeGameReset, f.Type)
	require.NotNil(t, f.GameState)
	require.Empty(t, f.GameState.Cards)
	require.Len(t, f.GameState.DeckData.Cards, 3)
}

func TestLobby_PlayerListRenamesSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLobby(ctx, "ROOM01", threeCards(), nil, nil)

	a := join(t, l, "A", 8)
	recvFrame(t, a, 100*time.Millisecond)

	l.Inbox() <- FromClient{PlayerID: "A", Msg: protocol.GameProposal{PlayerID: "A", Payload: protocol.PlayerList{
		Players: []protocol.Player{{PlayerID: "A", PlayerName: "  Ada  "}, {PlayerID: "X", PlayerName: "spoof"}},
	}}}
	f := recvFrame(t, a, 100*time.Millisecond)
	require.Equal(t, protocol.TypeGameMessage, f.Type)

	view := recvView(t, l)
	require.Equal(t, "Ada", view.Players[0].PlayerName)
	require.Len(t, view.Players, 1)
}

func TestLobby_ShutdownClosesOutboxes(t *testing.T) {
	l := NewLobby(context.Background(), "ROOM01", threeCards(), nil, nil)
	a := join(t, l, "A", 8)
	recvFrame(t, a, 100*time.Millisecond)

	l.Inbox() <- Shutdown{}
	select {
	case _, ok := <-a:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("outbox not closed on shutdown")
	}
}
