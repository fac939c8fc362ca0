// Package auth defines the gate through which every privileged operation
// passes: turning a bearer token into an authenticated identity, and
// checking that identity against a required permission set.
//
// The gate is a capability, not an implementation. The sessions package
// provides the token-issuing backend; jwksauth validates tokens minted by
// an external identity provider. Both satisfy Gate, and callers (the
// connection registry, any RPC dispatcher) depend only on the contract.
//
// Authorization is evaluated per message. A connection's identity is
// attached once, but CheckPermissions consults the backend's live view, so
// a session revoked mid-connection is rejected on the next gated operation.
package auth
