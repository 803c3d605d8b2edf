package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/engine"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

type store interface {
	Save(ctx context.Context, code string, p engine.Persisted) error
	Load(ctx context.Context, code string) (engine.Persisted, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, code string) error
}

func dealtState(t *testing.T) engine.State {
	t.Helper()
	p, ok := deck.Builtin(deck.PresetStandard)
	require.True(t, ok)
	s := engine.NewState(p)
	top, err := s.Deck.Peek()
	require.NoError(t, err)
	_, s, err = engine.Apply(s, engine.Command{
		Type:     engine.CmdUpdateCardState,
		PlayerID: "A",
		Now:      1,
		Cards:    []protocol.CardState{{UniqueID: top.UniqueID}},
	})
	require.NoError(t, err)
	return s
}

func exercise(t *testing.T, st store) {
	ctx := context.Background()
	s := dealtState(t)

	_, err := st.Load(ctx, "NOPE00")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Save(ctx, "ROOM01", s.Persist()))
	require.NoError(t, st.Save(ctx, "ROOM01", s.Persist())) // upsert

	got, err := st.Load(ctx, "ROOM01")
	require.NoError(t, err)
	restored := engine.Restore(got)
	require.Equal(t, s.Seq, restored.Seq)
	require.Equal(t, s.Deck.Len(), restored.Deck.Len())
	require.Equal(t, s.CardIDs(), restored.CardIDs())

	codes, err := st.List(ctx)
	require.NoError(t, err)
	require.Contains(t, codes, "ROOM01")

	require.NoError(t, st.Delete(ctx, "ROOM01"))
	_, err = st.Load(ctx, "ROOM01")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestGormPostgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	g, err := OpenPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	exercise(t, g)
}
