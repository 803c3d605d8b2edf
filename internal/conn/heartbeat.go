package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// heartbeat probes with websocket pings while the socket is quiet. Pongs
// are answered by the peer's reader, so application frames never carry
// liveness traffic.
func (m *Manager) heartbeat(ctx context.Context, c *websocket.Conn, gen uint64) {
	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if time.Since(time.Unix(0, m.lastSeen.Load())) < m.cfg.HeartbeatInterval {
			misses = 0
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, m.cfg.HeartbeatTimeout)
		err := c.Ping(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			misses = 0
			m.lastSeen.Store(time.Now().UnixNano())
			continue
		}

		misses++
		m.log.Debug("heartbeat missed", zap.Int("misses", misses), zap.Error(err))
		if misses >= m.cfg.MaxMisses {
			m.lost(gen, fmt.Errorf("%w: %d consecutive misses", ErrHeartbeat, misses))
			return
		}
	}
}
