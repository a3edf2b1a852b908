package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/example/conn-coordinator/coordinator"
	"github.com/example/conn-coordinator/pkg/otelhelper"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("Ignoring invalid duration env", "key", key, "value", v)
		return def
	}
	return time.Duration(n) * time.Second
}

func main() {
	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otelhelper.Init(ctx)
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	nodeID := envOrDefault("NODE_ID", uuid.NewString())
	natsURL := envOrDefault("NATS_URL", "nats://localhost:4222")
	natsUser := envOrDefault("NATS_USER", "coordinatord")
	natsPass := envOrDefault("NATS_PASS", "coordinatord-secret")
	redisAddr := envOrDefault("REDIS_ADDR", "localhost:6379")
	redisPass := os.Getenv("REDIS_PASSWORD")
	listenAddr := envOrDefault("LISTEN_ADDR", ":8080")
	subject := envOrDefault("BROADCAST_SUBJECT", coordinator.DefaultBroadcastSubject)
	heartbeatTimeout := envSeconds("HEARTBEAT_TIMEOUT_SECONDS", 60*time.Second)
	sweepInterval := envSeconds("SWEEP_INTERVAL_SECONDS", 20*time.Second)

	slog.Info("Starting connection coordinator node",
		"node", nodeID, "nats_url", natsURL, "redis_addr", redisAddr, "listen", listenAddr)

	// Connect to Redis with retry
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPass,
	})
	for attempt := 1; attempt <= 30; attempt++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			break
		}
		slog.Info("Waiting for Redis", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("Connected to Redis", "addr", redisAddr)

	// Connect to NATS with retry
	var nc *nats.Conn
	for attempt := 1; attempt <= 30; attempt++ {
		nc, err = nats.Connect(natsURL,
			nats.UserInfo(natsUser, natsPass),
			nats.Name("coordinatord-"+nodeID),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err == nil {
			break
		}
		slog.Info("Waiting for NATS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl())

	store := coordinator.NewRedisPresenceStore(rdb, "presence")

	// A previous incarnation of this node id may have crashed without
	// cleaning the cluster indices. Purge before claiming any sessions.
	if purged, err := store.PurgeNode(ctx, nodeID); err != nil {
		slog.Warn("Boot-time node purge failed", "node", nodeID, "error", err)
	} else if purged > 0 {
		slog.Info("Purged stale sessions from previous incarnation", "node", nodeID, "sessions", purged)
	}

	bus := coordinator.NewNatsFanoutBus(nc, subject)

	coord, err := coordinator.New(coordinator.Config{
		NodeID:           nodeID,
		HeartbeatTimeout: heartbeatTimeout,
	}, store, bus)
	if err != nil {
		slog.Error("Failed to build coordinator", "error", err)
		os.Exit(1)
	}
	if err := coord.Start(); err != nil {
		slog.Error("Failed to subscribe to fanout bus", "error", err)
		os.Exit(1)
	}

	if err := registerAdminHandlers(nc, coord); err != nil {
		slog.Error("Failed to register admin handlers", "error", err)
		os.Exit(1)
	}

	// Periodic heartbeat sweep, own partition only
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case now := <-ticker.C:
				coord.Sweep(sweepCtx, now)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWS(coord, nc, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Coordinator node ready",
		"node", nodeID, "subject", subject,
		"heartbeat_timeout", heartbeatTimeout, "sweep_interval", sweepInterval)

	// Wait for shutdown
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down coordinator node", "node", nodeID)

	// Drain ordering: stop the sweep, flip to shutdown mode (no presence
	// mutation from here on), refuse new sockets, close the ones we own,
	// then let NATS flush.
	stopSweep()
	coord.EnterShutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}

	closed := coord.CloseAllLocal(ctx, coordinator.ReasonNodeShutdown)
	slog.Info("Closed local sessions", "count", closed)

	nc.Drain()
	slog.Info("Coordinator node shutdown complete", "node", nodeID)
}
