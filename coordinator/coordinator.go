package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config carries the explicit startup parameters of one coordinator node.
// NodeID is chosen once per process lifetime and threaded through here —
// never inferred ambiently inside the library.
type Config struct {
	// NodeID identifies this process in cluster indices and on outgoing
	// fanout envelopes. Required.
	NodeID string
	// HeartbeatTimeout is the age at which a silent session is considered
	// dead and swept. Defaults to 60s.
	HeartbeatTimeout time.Duration
}

const defaultHeartbeatTimeout = 60 * time.Second

// Coordinator owns this node's session table and mediates between it, the
// cluster-visible presence store, and the fanout bus. Construct one per
// process and share it by reference.
type Coordinator struct {
	cfg      Config
	table    *sessionTable
	store    PresenceStore
	bus      FanoutBus
	draining atomic.Bool

	heartbeatAck []byte

	registersTotal   metric.Int64Counter
	unregistersTotal metric.Int64Counter
	heartbeatsTotal  metric.Int64Counter
	evictionsTotal   metric.Int64Counter
	deliveriesTotal  metric.Int64Counter
	sendFailures     metric.Int64Counter
	fanoutDuration   metric.Float64Histogram
}

// New wires a coordinator over an existing presence store and fanout bus.
// Call Start afterwards to begin consuming peer envelopes.
func New(cfg Config, store PresenceStore, bus FanoutBus) (*Coordinator, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("coordinator: config.NodeID is required")
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}

	c := &Coordinator{
		cfg:          cfg,
		table:        newSessionTable(),
		store:        store,
		bus:          bus,
		heartbeatAck: []byte(`{"type":"heartbeat_ack"}`),
	}

	meter := otel.Meter("conn-coordinator")
	c.registersTotal, _ = meter.Int64Counter("coordinator_registers_total",
		metric.WithDescription("Total sessions registered on this node"))
	c.unregistersTotal, _ = meter.Int64Counter("coordinator_unregisters_total",
		metric.WithDescription("Total sessions unregistered on this node"))
	c.heartbeatsTotal, _ = meter.Int64Counter("coordinator_heartbeats_total",
		metric.WithDescription("Total heartbeats received"))
	c.evictionsTotal, _ = meter.Int64Counter("coordinator_evictions_total",
		metric.WithDescription("Total sessions closed by the heartbeat sweep"))
	c.deliveriesTotal, _ = meter.Int64Counter("coordinator_deliveries_total",
		metric.WithDescription("Total payloads delivered to local sessions"))
	c.sendFailures, _ = meter.Int64Counter("coordinator_send_failures_total",
		metric.WithDescription("Total transport send failures"))
	c.fanoutDuration, _ = meter.Float64Histogram("coordinator_fanout_duration_seconds",
		metric.WithDescription("Time to deliver one payload to all local targets"))
	sessionGauge, _ := meter.Int64ObservableGauge("coordinator_local_sessions",
		metric.WithDescription("Sessions currently owned by this node"))
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(sessionGauge, int64(c.table.count()),
			metric.WithAttributes(attribute.String("node", cfg.NodeID)))
		return nil
	}, sessionGauge)

	return c, nil
}

// Start subscribes to the fanout bus so envelopes published by peers reach
// this node's local sessions.
func (c *Coordinator) Start() error {
	return c.bus.Subscribe(c.HandleEnvelope)
}

// NodeID returns the identity this coordinator was configured with.
func (c *Coordinator) NodeID() string {
	return c.cfg.NodeID
}

// Register inserts a session owned by this node. The session id comes from
// the transport layer (it assigned the socket, it names it). Presence-store
// registration is best-effort: a store outage leaves the session fully
// usable for same-node delivery.
func (c *Coordinator) Register(ctx context.Context, userID, sessionID string, conn Conn) error {
	if userID == "" || sessionID == "" || conn == nil {
		return ErrInvalidTarget
	}
	c.table.put(sessionID, userID, conn)
	c.registersTotal.Add(ctx, 1)
	slog.Info("Session registered", "session", sessionID, "user", userID, "node", c.cfg.NodeID)

	if err := c.store.MarkOnline(ctx, userID, sessionID, c.cfg.NodeID); err != nil {
		slog.Warn("Presence store unavailable during register", "session", sessionID, "error", err)
		return nil
	}
	if err := c.store.TouchHeartbeat(ctx, c.cfg.NodeID, sessionID, time.Now()); err != nil {
		slog.Warn("Initial heartbeat touch failed", "session", sessionID, "error", err)
	}
	return nil
}

// Unregister removes a session from the local table. Outside shutdown mode
// it also best-effort clears the cluster indices; during drain it must not
// touch them — a client reconnecting to another node mid-drain could have
// its fresh MarkOnline clobbered by our stale MarkOffline, and the
// heartbeat sweep reaps anything we miss anyway.
func (c *Coordinator) Unregister(ctx context.Context, sessionID string) {
	userID, last, ok := c.table.remove(sessionID)
	if !ok {
		return
	}
	c.unregistersTotal.Add(ctx, 1)
	slog.Debug("Session unregistered", "session", sessionID, "user", userID, "lastOfUser", last)

	if c.draining.Load() {
		return
	}
	if _, err := c.store.MarkOffline(ctx, sessionID); err != nil {
		slog.Warn("Presence store unavailable during unregister", "session", sessionID, "error", err)
	}
}

// EnterShutdown flips the process into drain mode. One-way: there is no
// coming back, the process is on its way out.
func (c *Coordinator) EnterShutdown() {
	if c.draining.CompareAndSwap(false, true) {
		slog.Info("Coordinator entering shutdown mode, presence mutation suspended", "node", c.cfg.NodeID)
	}
}

// Draining reports whether EnterShutdown has been called.
func (c *Coordinator) Draining() bool {
	return c.draining.Load()
}

// CloseAllLocal closes every socket this node owns. Meant for the drain
// path, after EnterShutdown, so no per-session presence writes happen.
func (c *Coordinator) CloseAllLocal(ctx context.Context, reason string) int {
	snapshot := c.table.snapshot()
	for sid := range snapshot {
		c.CloseSession(ctx, sid, reason)
	}
	return len(snapshot)
}

// LocalSessionCount returns how many sessions this node currently owns.
func (c *Coordinator) LocalSessionCount() int {
	return c.table.count()
}

// LocalSessionsOf returns the ids of the user's sessions on this node.
func (c *Coordinator) LocalSessionsOf(userID string) []string {
	return c.table.sessionsOf(userID)
}

// OnlineUserCount reports the cluster-wide online user count. Transiently
// stale by design.
func (c *Coordinator) OnlineUserCount(ctx context.Context) (int64, error) {
	return c.store.OnlineUserCount(ctx)
}

// OnlineUsers reports the cluster-wide online user set.
func (c *Coordinator) OnlineUsers(ctx context.Context) ([]string, error) {
	return c.store.OnlineUsers(ctx)
}
