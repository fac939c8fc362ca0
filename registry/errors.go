package registry

import "errors"

// ErrUnknownConnection indicates the target connection id is not
// registered. Operations racing a disconnect get this, not a fault.
var ErrUnknownConnection = errors.New("registry: unknown connection")

// ErrAlreadyAuthenticated indicates a second identity attachment on a
// connection that already has one; the original identity is unchanged.
var ErrAlreadyAuthenticated = errors.New("registry: connection already authenticated")

// ErrTransportClosed indicates the connection's outbound queue is closed
// but its registry entry has not been cleaned up yet. Distinguished from
// ErrUnknownConnection because it signals an in-progress removal race, not
// caller error.
var ErrTransportClosed = errors.New("registry: transport closed")
