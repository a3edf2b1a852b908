package coordinator

import (
	"context"
	"log/slog"
	"time"
)

// Heartbeat handling. A session is ACTIVE while its last-seen timestamp is
// younger than the configured timeout, EXPIRED once it ages past it, and
// CLOSED when the sweep gets to it. The states are derived from the
// timestamp in the presence store — nothing is tracked per session here.

// OnHeartbeat refreshes a session's last-seen timestamp and acks on the
// open socket. A socket that errors while acking is closed on the spot —
// it will not survive the next sweep anyway.
//
// During drain the ack still goes out (the socket is open and ours) but the
// presence touch is skipped: shutdown mode means no distributed mutation.
func (c *Coordinator) OnHeartbeat(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	c.heartbeatsTotal.Add(ctx, 1)

	if !c.draining.Load() {
		if err := c.store.TouchHeartbeat(ctx, c.cfg.NodeID, sessionID, time.Now()); err != nil {
			slog.Warn("Heartbeat touch failed", "session", sessionID, "error", err)
		}
	}

	conn, ok := c.table.get(sessionID)
	if !ok || !conn.IsOpen() {
		return
	}
	if err := conn.Send(c.heartbeatAck); err != nil {
		slog.Warn("Heartbeat ack failed, closing session", "session", sessionID, "error", err)
		c.CloseSession(ctx, sessionID, ReasonServerError)
	}
}

// Sweep reads this node's own heartbeat partition and closes every session
// whose heartbeat is at least HeartbeatTimeout old. Returns how many were
// evicted. Only the owning node sweeps: it is the only one that can close
// the socket, so cross-node sweeping would buy coordination cost for
// nothing.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-c.cfg.HeartbeatTimeout)
	expired, err := c.store.ExpiredSessions(ctx, c.cfg.NodeID, cutoff)
	if err != nil {
		slog.Warn("Heartbeat sweep could not read presence store", "node", c.cfg.NodeID, "error", err)
		return 0
	}

	evicted := 0
	for _, sid := range expired {
		if _, ok := c.table.get(sid); ok {
			c.CloseSession(ctx, sid, ReasonNotReliable)
			evicted++
			continue
		}
		// In the partition but not in our table: leftover from a previous
		// incarnation of this node id. Clear the cluster entry directly.
		if _, err := c.store.MarkOffline(ctx, sid); err != nil {
			slog.Warn("Stale heartbeat entry cleanup failed", "session", sid, "error", err)
		}
	}

	if evicted > 0 {
		c.evictionsTotal.Add(ctx, int64(evicted))
		slog.Info("Heartbeat sweep evicted sessions", "node", c.cfg.NodeID, "evicted", evicted, "expired", len(expired))
	}
	return evicted
}
