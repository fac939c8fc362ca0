// Package sessions issues, validates, and revokes the bearer sessions that
// gate privileged operations on a connection.
//
// A Session is a server-side record backing one signed token; it is
// independent of any single connection. Its lifecycle is
// Issued → Active → {Expired | Revoked}, and both terminal states are
// permanent: renewal always mints a new session id, never extends an
// existing record.
//
// Validation collapses expired, revoked, unknown, and malformed sessions
// into one externally visible outcome so a stale token cannot probe
// lifecycle state. Internally the Service still distinguishes the causes
// (see auth.ErrExpiredToken, auth.ErrSessionRevoked) for logging and tests.
//
// Revocation visibility: EndSession's store write is the linearization
// point. Any gate check that begins after EndSession returns observes the
// revocation; a check already in flight may complete against the
// pre-revocation state, bounding the grace window to a single
// frame-handling cycle.
package sessions
