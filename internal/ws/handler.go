package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/hub"
	"github.com/DoyleJ11/cardtable-sync/internal/lobby"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

const (
	joinTimeout  = 10 * time.Second
	writeTimeout = 3 * time.Second
	pingInterval = 30 * time.Second
	outboxSize   = 64
	readLimit    = 1 << 20
)

func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := protocol.CleanRoomCode(chi.URLParam(r, "code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Native clients send no Origin; browsers on other hosts are allowed too.
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		log := logger.With(zap.String("room", code))

		// The first frame must be joinRoom.
		jctx, jcancel := context.WithTimeout(ctx, joinTimeout)
		_, data, err := conn.Read(jctx)
		jcancel()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClient(data)
		join, ok := msg.(protocol.JoinRequest)
		if err != nil || !ok {
			reject(ctx, conn, protocol.NewError(protocol.CodePlayerNotInRoom, "join the room first"))
			return
		}

		lb := h.Get(code)
		if lb == nil {
			reject(ctx, conn, protocol.NewError(protocol.CodeRoomNotFound, "room %s does not exist", code))
			return
		}

		playerID := join.PlayerID
		out := make(chan protocol.ServerFrame, outboxSize)
		lb.Inbox() <- lobby.Join{
			PlayerID:   playerID,
			PlayerName: protocol.CleanName(join.PlayerName),
			Resume:     join.Resume,
			Outbox:     out,
		}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{PlayerID: playerID, Outbox: out}:
			case <-time.After(time.Second):
			}
		}()
		log = log.With(zap.String("player", playerID))

		// Writer goroutine
		go func() {
			defer cancel()
			for f := range out {
				if err := writeFrame(ctx, conn, f); err != nil {
					return
				}
			}
			// Lobby closed our outbox: we were dropped or the room shut down.
			conn.Close(websocket.StatusTryAgainLater, "dropped")
		}()

		go keepalive(ctx, conn)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read", zap.Error(err))
					}
				}
				return
			}

			m, err := protocol.DecodeClient(data)
			if err != nil {
				log.Debug("bad frame", zap.Error(err))
				if errors.Is(err, protocol.ErrInvalidPayload) || errors.Is(err, protocol.ErrUnknownType) {
					_ = writeFrame(ctx, conn, protocol.ErrorFrame(protocol.NewError(protocol.CodeInvalidState, "%v", err)))
				}
				continue
			}
			if sender(m) != playerID {
				_ = writeFrame(ctx, conn, protocol.ErrorFrame(protocol.NewError(protocol.CodePlayerNotInRoom, "not joined as %s", sender(m))))
				continue
			}

			select {
			case lb.Inbox() <- lobby.FromClient{PlayerID: playerID, Msg: m}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func sender(m protocol.ClientMessage) string {
	switch v := m.(type) {
	case protocol.JoinRequest:
		return v.PlayerID
	case protocol.FullStateRequest:
		return v.PlayerID
	case protocol.ResetRequest:
		return v.PlayerID
	case protocol.GameProposal:
		return v.PlayerID
	}
	return ""
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f protocol.ServerFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func reject(ctx context.Context, conn *websocket.Conn, e *protocol.Error) {
	_ = writeFrame(ctx, conn, protocol.ErrorFrame(e))
	conn.Close(websocket.StatusPolicyViolation, string(e.Code))
}

// keepalive pings idle clients so dead sockets are noticed without a
// per-read deadline.
func keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
