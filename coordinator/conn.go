package coordinator

// Conn is the transport-owned capability for one live socket. The transport
// layer (websocket, tcp, whatever) hands one to Register and keeps pumping
// reads itself; the coordinator only ever writes and closes.
//
// Only the node that registered a Conn may call it — cluster peers reach the
// socket indirectly through the fanout bus.
type Conn interface {
	// Send writes one opaque payload to the peer.
	Send(payload []byte) error
	// Close tears the socket down with a human-readable reason. Closing an
	// already-closed connection must be a no-op.
	Close(reason string) error
	// IsOpen reports whether the socket is still writable.
	IsOpen() bool
}
