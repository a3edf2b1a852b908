package coordinator

import "errors"

// ErrInvalidTarget is returned synchronously when a caller passes an empty
// session id, user id, or nil connection where one is required. It is the
// only error the public send/register API ever returns: absent targets are
// expected races and swallowed, and presence/bus failures are contained and
// logged rather than surfaced.
var ErrInvalidTarget = errors.New("coordinator: invalid target")

// Close reasons used by the coordinator itself. Admin callers may pass their
// own free-form reasons.
const (
	ReasonServerError  = "server error"
	ReasonNotReliable  = "session not reliable"
	ReasonSendFailed   = "send failed"
	ReasonNodeShutdown = "node shutting down"
)
