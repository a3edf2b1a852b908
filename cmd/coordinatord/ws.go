package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/example/conn-coordinator/coordinator"
	"github.com/example/conn-coordinator/pkg/otelhelper"
)

const closeWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Authentication/authorization happens upstream (gateway or sidecar);
	// by the time a socket reaches this process the user id is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts one gorilla connection to the coordinator.Conn capability.
// Gorilla allows a single concurrent writer, so every write (coordinator
// sends, heartbeat acks, the close frame) goes through one mutex.
type wsConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed atomic.Bool
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	// Best effort: the peer may already be gone.
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	return c.ws.Close()
}

func (c *wsConn) IsOpen() bool {
	return !c.closed.Load()
}

// inboundFrame is the thin routing envelope clients send. Anything that is
// not a heartbeat is opaque business payload and gets forwarded as-is.
type inboundFrame struct {
	Type string `json:"type"`
}

// serveWS upgrades one socket, registers it with the coordinator, and runs
// the read pump until the peer goes away.
func serveWS(coord *coordinator.Coordinator, nc *nats.Conn, w http.ResponseWriter, r *http.Request) {
	if coord.Draining() {
		http.Error(w, "node is draining", http.StatusServiceUnavailable)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	conn := &wsConn{ws: ws}
	ctx := r.Context()
	if err := coord.Register(context.WithoutCancel(ctx), userID, sessionID, conn); err != nil {
		slog.Warn("Session registration rejected", "user", userID, "error", err)
		conn.Close("registration rejected")
		return
	}

	// Read pump. Heartbeat frames feed the monitor; everything else is
	// forwarded to business dispatch over NATS.
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var frame inboundFrame
		if json.Unmarshal(data, &frame) == nil && frame.Type == "heartbeat" {
			coord.OnHeartbeat(context.Background(), sessionID)
			continue
		}
		if err := otelhelper.TracedPublish(context.Background(), nc, "coordinator.inbound."+userID, data); err != nil {
			slog.Warn("Inbound forward failed", "session", sessionID, "error", err)
		}
	}

	conn.closed.Store(true)
	coord.Unregister(context.Background(), sessionID)
	slog.Debug("Read pump finished", "session", sessionID, "user", userID)
}
