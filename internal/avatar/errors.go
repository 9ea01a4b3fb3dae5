package avatar

import "errors"

// Error taxonomy reported back to robots and the master over the
// master-link channel (spec §3, §8).
var (
	// ErrInvalidRequest is returned for malformed envelopes or requests
	// that reference a field the current state doesn't support.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownInterface is returned when an operation names a tag
	// that isn't registered on the session.
	ErrUnknownInterface = errors.New("unknown interface")

	// ErrConflict is the taxonomy's conflict kind. No operation in this
	// package returns it: a duplicate interface tag on a session is
	// reported as iface.ErrConflict.
	ErrConflict = errors.New("conflict")

	// ErrDeadConnection is returned by a UserRef call when the
	// master-link channel behind it is known gone; the session destroys
	// itself when an RPC reports it (see Session.invoke).
	ErrDeadConnection = errors.New("dead connection")
)
