package hub

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/engine"
	"github.com/DoyleJ11/cardtable-sync/internal/lobby"
	"github.com/DoyleJ11/cardtable-sync/internal/storage"
)

// Store is what the hub needs from storage: lobbies save through it,
// unknown codes are looked up in it before giving up, and removed rooms are
// forgotten by it.
type Store interface {
	lobby.Store
	Load(ctx context.Context, code string) (engine.Persisted, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, code string) error
}

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	State engine.State
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	State engine.State // only used if creation happens
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code  string
	Reply chan bool // optional; reports whether the room existed
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	store   Store
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, store Store, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		store:   store,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.start(msg.Code, msg.State)

			case GetLobby:
				lb := h.lobbies[msg.Code]
				if lb == nil {
					lb = h.restore(msg.Code)
				}
				msg.Reply <- lb // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				if lb := h.restore(msg.Code); lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.start(msg.Code, msg.State)

			case RemoveLobby:
				ok := h.remove(msg.Code)
				if msg.Reply != nil {
					msg.Reply <- ok
				}

			case ListLobbies:
				msg.Reply <- h.codes()

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) start(code string, state engine.State) *lobby.Lobby {
	lb := lobby.NewLobby(h.ctx, code, state, h.store, h.log)
	h.lobbies[code] = lb
	h.log.Info("room opened", zap.String("room", code))
	return lb
}

// restore brings a persisted room back to life, or returns nil.
func (h *Hub) restore(code string) *lobby.Lobby {
	if h.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	p, err := h.store.Load(ctx, code)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Warn("load room", zap.String("room", code), zap.Error(err))
		}
		return nil
	}
	h.log.Info("room restored", zap.String("room", code), zap.Uint64("seq", p.Seq))
	return h.start(code, engine.Restore(p))
}

// remove stops a live lobby and forgets its stored snapshot.
func (h *Hub) remove(code string) bool {
	found := false
	if lb := h.lobbies[code]; lb != nil {
		found = true
		done := make(chan struct{})
		lb.Inbox() <- lobby.Shutdown{Done: done}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.log.Warn("lobby slow to stop", zap.String("room", code))
		}
		delete(h.lobbies, code)
	}
	if h.store == nil {
		return found
	}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	if _, err := h.store.Load(ctx, code); err == nil {
		found = true
	}
	if err := h.store.Delete(ctx, code); err != nil {
		h.log.Warn("delete room", zap.String("room", code), zap.Error(err))
	}
	if found {
		h.log.Info("room removed", zap.String("room", code))
	}
	return found
}

// codes lists live rooms and rooms that can be restored from the store.
func (h *Hub) codes() []string {
	seen := make(map[string]bool, len(h.lobbies))
	for code := range h.lobbies {
		seen[code] = true
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		stored, err := h.store.List(ctx)
		cancel()
		if err != nil {
			h.log.Warn("list rooms", zap.Error(err))
		}
		for _, code := range stored {
			seen[code] = true
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Inbox() <- lobby.Shutdown{}
	}
	clear(h.lobbies)
	h.cancel()
}

// Create, Get and Ensure are synchronous wrappers over the inbox.

func (h *Hub) Create(code string, state engine.State) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	h.inbox <- CreateLobby{Code: code, State: state, Reply: reply}
	return <-reply
}

func (h *Hub) Get(code string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	h.inbox <- GetLobby{Code: code, Reply: reply}
	return <-reply
}

func (h *Hub) Ensure(code string, state engine.State) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	h.inbox <- EnsureLobby{Code: code, State: state, Reply: reply}
	return <-reply
}

func (h *Hub) Codes() []string {
	reply := make(chan []string, 1)
	h.inbox <- ListLobbies{Reply: reply}
	return <-reply
}

// Remove closes a room and drops its snapshot. It reports whether the room
// existed.
func (h *Hub) Remove(code string) bool {
	reply := make(chan bool, 1)
	h.inbox <- RemoveLobby{Code: code, Reply: reply}
	return <-reply
}
