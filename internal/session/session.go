// Package session is the client engine. One goroutine owns the reconciled
// table: connection events, inbound frames, timers and API calls are all
// serialized through its inbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/conn"
	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/outbox"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
	"github.com/DoyleJ11/cardtable-sync/internal/reconcile"
	"github.com/DoyleJ11/cardtable-sync/internal/router"
	"github.com/DoyleJ11/cardtable-sync/internal/selection"
)

var ErrClosed = errors.New("session closed")
var ErrNotJoined = errors.New("not in a room")
var ErrUnknownCard = errors.New("unknown card")
var ErrDiscardEmpty = errors.New("discard pile is empty")
var ErrInvalidAlias = errors.New("invalid alias")
var ErrQueueOverflow = errors.New("offline queue overflowed")

// Transport is the connection manager as the session uses it.
type Transport interface {
	Events() <-chan conn.Event
	State() conn.State
	Open(room string) error
	Reconnect() error
	Confirm()
	Fail(retry bool, cause error)
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Prefs is the persisted local state. It may be nil.
type Prefs interface {
	Alias() (string, error)
	SetAlias(alias string) error
	LastDeck() (string, error)
	SetLastDeck(id string) error
	Resolve(id string) (deck.Preset, error)
	Close() error
}

type Config struct {
	Alias string
	// FlipDelay holds a flip proposal back so it never leaves before the
	// local animation starts.
	FlipDelay time.Duration
	// DriftInterval arms periodic state validation; zero leaves it manual.
	DriftInterval time.Duration
	// QueueLimit bounds proposals held while offline; zero keeps them all.
	// An eviction raises NoticeQueueOverflow.
	QueueLimit   int
	Table        selection.Rect
	Zones        selection.Zones
	CardW, CardH float64
	Layout       reconcile.Layout
}

func DefaultConfig() Config {
	return Config{
		Alias:     "player",
		FlipDelay: 150 * time.Millisecond,
		Table:     selection.Rect{X: 0, Y: 0, W: 1200, H: 800},
		Zones: selection.Zones{
			Hand:    selection.Rect{X: 0, Y: 640, W: 1200, H: 160},
			Discard: selection.Rect{X: 20, Y: 20, W: 160, H: 200},
		},
		CardW:  100,
		CardH:  140,
		Layout: reconcile.DefaultLayout(),
	}
}

type msg interface{ isSessionMsg() }

type call struct {
	fn    func() error
	reply chan error
}

type flipDue struct {
	uniqueID string
	flipped  bool
	z        int
}

func (call) isSessionMsg()    {}
func (flipDue) isSessionMsg() {}

type Session struct {
	cfg    Config
	conn   Transport
	prefs  Prefs
	queue  *outbox.Queue
	router *router.Router
	rec    *reconcile.Reconciler
	sel    *selection.Coordinator
	log    *zap.Logger
	rng    *rand.Rand
	now    func() int64

	inbox     chan msg
	notices   chan Notice
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Owned by the loop goroutine.
	room        string
	playerID    string
	alias       string
	isHost      bool
	players     []protocol.Player
	inflight    map[string]bool
	restoreDeck bool
}

// New builds a session over t. prefs may be nil.
func New(cfg Config, t Transport, prefs Prefs, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CardW <= 0 || cfg.CardH <= 0 {
		cfg.CardW, cfg.CardH = def.CardW, def.CardH
	}
	if cfg.Table == (selection.Rect{}) {
		cfg.Table = def.Table
	}
	if cfg.Zones == (selection.Zones{}) {
		cfg.Zones = def.Zones
	}
	if cfg.Layout == (reconcile.Layout{}) {
		cfg.Layout = def.Layout
	}

	alias := protocol.CleanName(cfg.Alias)
	if prefs != nil {
		if saved, err := prefs.Alias(); err == nil && saved != "" {
			alias = saved
		}
	}
	if alias == "" {
		alias = def.Alias
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := outbox.New(cfg.QueueLimit)
	s := &Session{
		cfg:      cfg,
		conn:     t,
		prefs:    prefs,
		queue:    q,
		router:   router.New(t, q, logger.Named("router")),
		rec:      reconcile.New("", cfg.Layout, logger.Named("reconcile")),
		sel:      selection.NewCoordinator("", cfg.Table),
		log:      logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      func() int64 { return time.Now().UnixMilli() },
		inbox:    make(chan msg, 64),
		notices:  make(chan Notice, 128),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		alias:    alias,
		inflight: make(map[string]bool),
	}
	go s.loop()
	return s
}

// Notices streams what the user should see. Slow readers miss notices.
func (s *Session) Notices() <-chan Notice { return s.notices }

func (s *Session) loop() {
	defer close(s.stopped)

	var drift <-chan time.Time
	if s.cfg.DriftInterval > 0 {
		t := time.NewTicker(s.cfg.DriftInterval)
		defer t.Stop()
		drift = t.C
	}
	events := s.conn.Events()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-events:
			s.onConn(ev)

		case m := <-s.inbox:
			switch m := m.(type) {
			case call:
				m.reply <- m.fn()
			case flipDue:
				s.sendFlip(m)
			}

		case <-drift:
			if s.conn.State() == conn.Connected {
				if err := s.validate(); err != nil {
					s.log.Debug("drift validation", zap.Error(err))
				}
			}
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- call{fn: fn, reply: reply}:
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(m msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Debug("notice dropped", zap.Stringer("kind", n.Kind))
	}
}

// Close disconnects deliberately and releases the preferences store.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.stopped
		err := s.conn.Close()
		if s.prefs != nil {
			err = multierr.Append(err, s.prefs.Close())
		}
		s.closeErr = err
	})
	return s.closeErr
}

// Snapshot is a consistent copy of everything the session knows.
type Snapshot struct {
	State            conn.State
	Room             string
	PlayerID         string
	Alias            string
	IsHost           bool
	Players          []protocol.Player
	Cards            []reconcile.Card
	DeckID           string
	DeckSize         int
	OriginalDeckSize int
	Discard          []string
	PrivateCounts    map[string]int
	Selected         []string
	Pending          int
	// Evicted counts queued proposals lost to QueueLimit.
	Evicted int
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		d := s.rec.Deck()
		snap = Snapshot{
			State:            s.conn.State(),
			Room:             s.room,
			PlayerID:         s.playerID,
			Alias:            s.alias,
			IsHost:           s.isHost,
			Players:          slices.Clone(s.players),
			Cards:            s.rec.View(),
			DeckID:           d.ID,
			DeckSize:         d.Len(),
			OriginalDeckSize: d.OriginalSize(),
			Discard:          s.rec.Discard(),
			PrivateCounts:    s.rec.PrivateCounts(),
			Selected:         s.sel.Selected(),
			Pending:          s.router.Pending(),
			Evicted:          s.queue.Dropped(),
		}
		return nil
	})
	return snap, err
}

// PrivateCount is the number of cards in a player's hand.
func (s Snapshot) PrivateCount(playerID string) int { return s.PrivateCounts[playerID] }

func (s Snapshot) Card(uniqueID string) (reconcile.Card, bool) {
	for _, c := range s.Cards {
		if c.UniqueID() == uniqueID {
			return c, true
		}
	}
	return reconcile.Card{}, false
}

func (s *Session) setIdentity() {
	s.router.SetIdentity(protocol.Identity{PlayerID: s.playerID, PlayerName: s.alias, RoomCode: s.room})
	s.rec.SetSelf(s.playerID)
	s.sel.SetSelf(s.playerID)
}

func (s *Session) joined() error {
	if s.room == "" {
		return ErrNotJoined
	}
	return nil
}

// game sends or queues a payload. Queueing is not an error; losing an older
// queued proposal to the queue limit is reported as a notice.
func (s *Session) game(g protocol.Game) error {
	queued, err := s.router.Game(s.ctx, g)
	if errors.Is(err, router.ErrEvicted) {
		s.notify(Notice{Kind: NoticeQueueOverflow, State: s.conn.State(), Err: fmt.Errorf("%w: %w", ErrQueueOverflow, err)})
		err = nil
	}
	if err != nil {
		return err
	}
	if queued {
		s.log.Debug("proposal queued", zap.String("type", g.GameType()), zap.Int("pending", s.router.Pending()))
	}
	return nil
}

func (s *Session) requestFullState() {
	if err := s.router.Control(s.ctx, protocol.RequestFullState{}); err != nil {
		s.log.Debug("requestFullState", zap.Error(err))
	}
}
