package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/example/conn-coordinator/pkg/otelhelper"
)

// NatsFanoutBus carries broadcast envelopes over a single shared NATS
// subject. Every node subscribes without a queue group so every publish
// reaches every node — self-echo is the router's problem, not the bus's.
type NatsFanoutBus struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
}

// DefaultBroadcastSubject is used when no subject is configured.
const DefaultBroadcastSubject = "coordinator.broadcast"

func NewNatsFanoutBus(nc *nats.Conn, subject string) *NatsFanoutBus {
	if subject == "" {
		subject = DefaultBroadcastSubject
	}
	return &NatsFanoutBus{nc: nc, subject: subject}
}

func (b *NatsFanoutBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := otelhelper.TracedPublish(ctx, b.nc, b.subject, data); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func (b *NatsFanoutBus) Subscribe(handler func(env Envelope)) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		_, span := otelhelper.StartConsumerSpan(context.Background(), msg, "fanout envelope")
		defer span.End()

		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			slog.Warn("Dropping malformed fanout envelope", "subject", msg.Subject, "error", err)
			span.RecordError(err)
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

// Unsubscribe detaches from the broadcast subject. Safe to call before
// Subscribe or twice.
func (b *NatsFanoutBus) Unsubscribe() error {
	if b.sub == nil {
		return nil
	}
	sub := b.sub
	b.sub = nil
	return sub.Unsubscribe()
}
