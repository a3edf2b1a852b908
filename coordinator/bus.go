package coordinator

import "context"

// Envelope is the wire entity replicated to every node for multi-user and
// broadcast sends. FromNode lets a consumer recognize and drop its own
// publish; an empty TargetUsers means "everyone".
type Envelope struct {
	FromNode    string   `json:"fromNode"`
	Payload     []byte   `json:"payload"`
	TargetUsers []string `json:"targetUsers,omitempty"`
}

// Broadcast reports whether the envelope targets every connected session
// rather than a specific user set.
func (e Envelope) Broadcast() bool {
	return len(e.TargetUsers) == 0
}

// FanoutBus replicates envelopes to every node in the fleet, the publisher
// included. Exactly one hop: a consumer never re-publishes what it receives.
//
// Publish/consume failures are best-effort territory — local delivery has
// already happened by the time the router publishes, and a lost envelope
// only degrades cross-node fanout, never same-node correctness.
type FanoutBus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(handler func(env Envelope)) error
}
