// Package coordinator tracks which users and sessions are connected to
// which node in a horizontally-scaled fleet of socket servers, evicts dead
// connections by heartbeat age, and routes unicast, multicast, and
// broadcast sends across nodes that share no memory.
//
// Two kinds of state, two consistency models: the local session table is
// authoritative for the sockets this process owns and is the only thing
// direct delivery reads; the presence store holds cluster-visible,
// eventually-consistent indices used for online checks, counting, and the
// heartbeat sweep. Cross-node delivery rides the fanout bus: the sender
// delivers locally, publishes one envelope, and every peer delivers the
// envelope to its own sessions — one hop, self-echo discarded.
package coordinator
