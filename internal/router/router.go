// Package router frames outgoing messages and dispatches inbound ones.
//
// Control messages (join, full-state request, reset) go out unwrapped with
// identity fields attached. Game payloads are enveloped with an increasing
// localMessageId and a timestamp, and are queued instead of dropped while
// the connection is not confirmed.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/conn"
	"github.com/DoyleJ11/cardtable-sync/internal/outbox"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

// Sender is the part of the connection manager the router needs.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	State() conn.State
}

// Handler receives decoded inbound messages. fromSelf marks game messages
// that echo this client's own proposals; they are for bookkeeping only.
type Handler interface {
	RoomJoined(m protocol.RoomJoined)
	FullState(m protocol.FullState)
	PlayerJoined(p protocol.Player)
	PlayerLeft(playerID string)
	Game(m protocol.GameMessage, fromSelf bool)
	GameReset(m protocol.GameReset)
	Error(e *protocol.Error)
}

type Router struct {
	send   Sender
	queue  *outbox.Queue
	log    *zap.Logger
	now    func() int64
	id     protocol.Identity
	nextID uint64
}

func New(s Sender, q *outbox.Queue, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		send:  s,
		queue: q,
		log:   logger,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

func (r *Router) SetIdentity(id protocol.Identity) { r.id = id }

func (r *Router) Pending() int { return r.queue.Len() }

// Control sends a control message. Control frames are never queued.
func (r *Router) Control(ctx context.Context, c protocol.Control) error {
	b, err := protocol.EncodeControl(c, r.id)
	if err != nil {
		return fmt.Errorf("encode control: %w", err)
	}
	return r.send.Send(ctx, b)
}

// ErrEvicted reports that queueing a payload pushed the oldest queued one
// out of a bounded queue. The new payload itself is queued.
var ErrEvicted = errors.New("outbound queue full, oldest proposal dropped")

// Game sends a game payload, or queues it while not connected. A payload
// whose send fails is queued too.
func (r *Router) Game(ctx context.Context, g protocol.Game) (queued bool, err error) {
	if r.send.State() != conn.Connected {
		return true, r.enqueue(g)
	}
	if err := r.sendGame(ctx, g); err != nil {
		if errors.Is(err, errEncode) {
			return false, err
		}
		r.log.Debug("send failed, queueing", zap.String("type", g.GameType()), zap.Error(err))
		return true, r.enqueue(g)
	}
	return false, nil
}

func (r *Router) enqueue(g protocol.Game) error {
	old := r.queue.Push(g, r.now())
	if old == nil {
		return nil
	}
	r.log.Warn("outbound queue full", zap.String("dropped", old.Payload.GameType()), zap.Int("pending", r.queue.Len()))
	return fmt.Errorf("%w: %s", ErrEvicted, old.Payload.GameType())
}

var errEncode = errors.New("encode game")

func (r *Router) sendGame(ctx context.Context, g protocol.Game) error {
	r.nextID++
	b, err := protocol.EncodeGameFrame(g, r.id, r.nextID, r.now())
	if err != nil {
		return fmt.Errorf("%w: %v", errEncode, err)
	}
	return r.send.Send(ctx, b)
}

// Flush resends queued payloads in order, each stamped with the current
// identity, message id and time, and then asks for the full state. If a
// send fails the rest stays queued.
func (r *Router) Flush(ctx context.Context) (int, error) {
	entries := r.queue.Drain()
	for i, e := range entries {
		if err := r.sendGame(ctx, e.Payload); err != nil {
			if errors.Is(err, errEncode) {
				r.log.Warn("dropping unencodable queued payload", zap.Error(err))
				continue
			}
			r.queue.Requeue(entries[i:])
			return i, fmt.Errorf("flush: %w", err)
		}
	}
	if len(entries) > 0 {
		r.log.Info("flushed queued proposals", zap.Int("count", len(entries)))
	}
	if err := r.Control(ctx, protocol.RequestFullState{}); err != nil {
		return len(entries), fmt.Errorf("flush: %w", err)
	}
	return len(entries), nil
}

// Dispatch decodes one inbound frame and hands it to h. Unknown message
// types are ignored; malformed frames are dropped and reported.
func (r *Router) Dispatch(data []byte, h Handler) error {
	in, err := protocol.DecodeServer(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			r.log.Debug("ignoring unknown message", zap.Error(err))
			return nil
		}
		r.log.Warn("dropping malformed frame", zap.Error(err))
		return err
	}

	switch m := in.(type) {
	case protocol.RoomJoined:
		h.RoomJoined(m)
	case protocol.FullState:
		h.FullState(m)
	case protocol.PlayerJoined:
		h.PlayerJoined(m.Player)
	case protocol.PlayerLeft:
		h.PlayerLeft(m.PlayerID)
	case protocol.GameMessage:
		h.Game(m, m.SentBy != "" && m.SentBy == r.id.PlayerID)
	case protocol.GameReset:
		h.GameReset(m)
	case protocol.ErrorMessage:
		h.Error(m.Err)
	}
	return nil
}
