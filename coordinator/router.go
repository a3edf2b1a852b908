package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Message routing. Every send has two phases: a local phase against the
// session table (never blocks on the network) and, for multi-user and
// broadcast targets, a remote phase that publishes one envelope to the
// fanout bus. The local phase always completes first; a failed publish
// degrades cross-node fanout but never local delivery.

// SendToSession delivers to one local session. A session this node does not
// own is an expected race — the socket closed, or it lives on a peer — and
// is silently ignored.
func (c *Coordinator) SendToSession(ctx context.Context, sessionID string, payload []byte) error {
	if sessionID == "" {
		return ErrInvalidTarget
	}
	conn, ok := c.table.get(sessionID)
	if !ok {
		return nil
	}
	c.deliver(ctx, sessionID, conn, payload)
	return nil
}

// SendToUser delivers to every session the user has on this node. A
// transport failure on one session closes only that session; the rest still
// get the payload.
func (c *Coordinator) SendToUser(ctx context.Context, userID string, payload []byte) error {
	if userID == "" {
		return ErrInvalidTarget
	}
	c.fanOutToUser(ctx, userID, payload)
	return nil
}

// SendToUsers delivers locally to each listed user and publishes one
// envelope so peers deliver to their sessions of the same users. The
// publish is unconditional — this node cannot know which of the targets
// have sessions elsewhere. An empty target set is a complete no-op.
func (c *Coordinator) SendToUsers(ctx context.Context, userIDs []string, payload []byte) error {
	if len(userIDs) == 0 {
		return nil
	}
	start := time.Now()
	for _, uid := range userIDs {
		c.fanOutToUser(ctx, uid, payload)
	}
	c.fanoutDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("target", "users")))

	c.publish(ctx, Envelope{
		FromNode:    c.cfg.NodeID,
		Payload:     payload,
		TargetUsers: userIDs,
	})
	return nil
}

// BroadcastAll delivers to every session on this node and publishes one
// everyone-envelope for the rest of the fleet.
func (c *Coordinator) BroadcastAll(ctx context.Context, payload []byte) error {
	start := time.Now()
	c.fanOutAll(ctx, payload)
	c.fanoutDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("target", "broadcast")))

	c.publish(ctx, Envelope{
		FromNode: c.cfg.NodeID,
		Payload:  payload,
	})
	return nil
}

// HandleEnvelope is the bus-consumer callback. The bus delivers every
// publish to every node, the publisher included, so the first check drops
// our own echo. Delivery here is strictly local — one hop of fanout ever.
func (c *Coordinator) HandleEnvelope(env Envelope) {
	if env.FromNode == c.cfg.NodeID {
		return
	}
	ctx := context.Background()
	if env.Broadcast() {
		c.fanOutAll(ctx, env.Payload)
		slog.Debug("Delivered broadcast envelope", "from", env.FromNode, "sessions", c.table.count())
		return
	}
	for _, uid := range env.TargetUsers {
		c.fanOutToUser(ctx, uid, env.Payload)
	}
	slog.Debug("Delivered targeted envelope", "from", env.FromNode, "targets", len(env.TargetUsers))
}

// CloseSession closes one local session and clears its table entry. Calling
// it on an unknown or already-closed session is a no-op.
func (c *Coordinator) CloseSession(ctx context.Context, sessionID, reason string) {
	conn, ok := c.table.get(sessionID)
	if !ok {
		return
	}
	if err := conn.Close(reason); err != nil {
		slog.Debug("Close returned error", "session", sessionID, "error", err)
	}
	c.Unregister(ctx, sessionID)
}

// CloseUser closes every session the user has on this node.
func (c *Coordinator) CloseUser(ctx context.Context, userID, reason string) {
	for _, sid := range c.table.sessionsOf(userID) {
		c.CloseSession(ctx, sid, reason)
	}
}

func (c *Coordinator) fanOutToUser(ctx context.Context, userID string, payload []byte) {
	for _, sid := range c.table.sessionsOf(userID) {
		conn, ok := c.table.get(sid)
		if !ok {
			continue
		}
		c.deliver(ctx, sid, conn, payload)
	}
}

func (c *Coordinator) fanOutAll(ctx context.Context, payload []byte) {
	for sid, conn := range c.table.snapshot() {
		c.deliver(ctx, sid, conn, payload)
	}
}

// deliver writes one payload to one session. A transport failure isolates
// to that session: it gets closed, delivery to everything else continues.
func (c *Coordinator) deliver(ctx context.Context, sessionID string, conn Conn, payload []byte) {
	if err := conn.Send(payload); err != nil {
		c.sendFailures.Add(ctx, 1)
		slog.Warn("Transport send failed, closing session", "session", sessionID, "error", err)
		c.CloseSession(ctx, sessionID, ReasonSendFailed)
		return
	}
	c.deliveriesTotal.Add(ctx, 1)
}

// publish pushes one envelope to the bus, best-effort. Local delivery has
// already happened by the time this runs.
func (c *Coordinator) publish(ctx context.Context, env Envelope) {
	if err := c.bus.Publish(ctx, env); err != nil {
		slog.Warn("Fanout bus unavailable, cross-node delivery skipped", "error", err)
	}
}
