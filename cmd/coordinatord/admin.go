package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/conn-coordinator/coordinator"
	"github.com/example/conn-coordinator/pkg/otelhelper"
)

// Admin surface over NATS request/reply. Two binding modes:
//
//   - Queue-group subjects (adminQueue): any single node can serve the
//     request. Cluster-wide sends land here — the router publishes to the
//     fanout bus itself, so exactly one node must originate them or every
//     target would receive duplicates.
//   - Plain subjects: every node handles the request against its own local
//     sessions (kicks, unicast, sweep). The requester gets the first reply;
//     the others still act.
const adminQueue = "coordinator-admin"

type sendRequest struct {
	SessionId string   `json:"sessionId,omitempty"`
	UserId    string   `json:"userId,omitempty"`
	UserIds   []string `json:"userIds,omitempty"`
	Payload   string   `json:"payload"`
}

type kickRequest struct {
	SessionId string `json:"sessionId,omitempty"`
	UserId    string `json:"userId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func respondOK(msg *nats.Msg) {
	msg.Respond([]byte(`{"ok":true}`))
}

func respondError(msg *nats.Msg, err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	msg.Respond(data)
}

func registerAdminHandlers(nc *nats.Conn, coord *coordinator.Coordinator) error {
	subscriptions := []struct {
		subject string
		queue   string
		handler nats.MsgHandler
	}{
		{"coordinator.admin.online_count", adminQueue, func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin online count")
			defer span.End()
			count, err := coord.OnlineUserCount(ctx)
			if err != nil {
				span.RecordError(err)
				respondError(msg, err)
				return
			}
			data, _ := json.Marshal(map[string]int64{"count": count})
			msg.Respond(data)
		}},
		{"coordinator.admin.online_users", adminQueue, func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin online users")
			defer span.End()
			users, err := coord.OnlineUsers(ctx)
			if err != nil {
				span.RecordError(err)
				respondError(msg, err)
				return
			}
			if users == nil {
				users = []string{}
			}
			data, _ := json.Marshal(users)
			msg.Respond(data)
		}},
		{"coordinator.admin.send_users", adminQueue, func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin send users")
			defer span.End()
			var req sendRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, err)
				return
			}
			coord.SendToUsers(ctx, req.UserIds, []byte(req.Payload))
			respondOK(msg)
		}},
		{"coordinator.admin.broadcast", adminQueue, func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin broadcast")
			defer span.End()
			var req sendRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, err)
				return
			}
			coord.BroadcastAll(ctx, []byte(req.Payload))
			respondOK(msg)
		}},
		{"coordinator.admin.send_session", "", func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin send session")
			defer span.End()
			var req sendRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, err)
				return
			}
			if err := coord.SendToSession(ctx, req.SessionId, []byte(req.Payload)); err != nil {
				respondError(msg, err)
				return
			}
			respondOK(msg)
		}},
		{"coordinator.admin.send_user", "", func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin send user")
			defer span.End()
			var req sendRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, err)
				return
			}
			if err := coord.SendToUser(ctx, req.UserId, []byte(req.Payload)); err != nil {
				respondError(msg, err)
				return
			}
			respondOK(msg)
		}},
		{"coordinator.admin.kick_session", "", func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin kick session")
			defer span.End()
			var req kickRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, err)
				return
			}
			reason := req.Reason
			if reason == "" {
				reason = "kicked by admin"
			}
			coord.CloseSession(ctx, req.SessionId, reason)
			respondOK(msg)
		}},
		{"coordinator.admin.kick_user", "", func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin kick user")
			defer span.End()
			var req kickRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, err)
				return
			}
			reason := req.Reason
			if reason == "" {
				reason = "kicked by admin"
			}
			coord.CloseUser(ctx, req.UserId, reason)
			respondOK(msg)
		}},
		{"coordinator.admin.sweep", "", func(msg *nats.Msg) {
			ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "admin sweep")
			defer span.End()
			evicted := coord.Sweep(ctx, time.Now())
			data, _ := json.Marshal(map[string]any{"node": coord.NodeID(), "evicted": evicted})
			msg.Respond(data)
		}},
	}

	for _, s := range subscriptions {
		var err error
		if s.queue != "" {
			_, err = nc.QueueSubscribe(s.subject, s.queue, s.handler)
		} else {
			_, err = nc.Subscribe(s.subject, s.handler)
		}
		if err != nil {
			return err
		}
		slog.Debug("Admin handler registered", "subject", s.subject, "queue", s.queue)
	}
	return nil
}
