package coordinator

import (
	"context"
	"time"
)

// PresenceStore is the cluster-visible side of session state: which users
// are online anywhere in the fleet, which node owns which session, and the
// per-node heartbeat partition the sweep reads.
//
// Everything here is eventually consistent and best-effort. Callers log
// failures and carry on — the local session table stays authoritative for
// same-node delivery no matter what the store does.
type PresenceStore interface {
	// MarkOnline records a freshly-registered session in the cluster indices.
	MarkOnline(ctx context.Context, userID, sessionID, nodeID string) error
	// MarkOffline removes a session from the cluster indices and reports
	// which user it belonged to. Removing the user's last session anywhere
	// in the cluster also drops the user from the online set.
	MarkOffline(ctx context.Context, sessionID string) (userID string, err error)
	// TouchHeartbeat refreshes a session's last-seen timestamp in the owning
	// node's heartbeat partition. Last write wins; the owning node is the
	// only writer so there is no conflict to resolve.
	TouchHeartbeat(ctx context.Context, nodeID, sessionID string, now time.Time) error
	// ExpiredSessions returns every session in the node's heartbeat
	// partition whose last-seen timestamp is at or before cutoff.
	ExpiredSessions(ctx context.Context, nodeID string, cutoff time.Time) ([]string, error)
	// OnlineUserCount returns the size of the cluster-wide online user set.
	OnlineUserCount(ctx context.Context) (int64, error)
	// OnlineUsers returns the cluster-wide online user set.
	OnlineUsers(ctx context.Context) ([]string, error)
	// SessionsOfNode returns the session ids a node claims to own.
	SessionsOfNode(ctx context.Context, nodeID string) ([]string, error)
}
