package wire

// ErrorCode is a protocol-level error code carried in an error response or
// error frame. The JSON-RPC 2.0 reserved codes are kept as-is; wirehub
// claims the -32000..-32010 implementation-defined range for its own
// taxonomy so clients can distinguish "re-authenticate" from "back off".
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the frame is not a valid protocol object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeAuthenticationRequired indicates the operation needs an
	// authenticated connection and none was attached.
	ErrorCodeAuthenticationRequired ErrorCode = -32000
	// ErrorCodeInvalidSession is the collapsed rejection for malformed,
	// expired, revoked, and unknown sessions. Lifecycle detail is
	// deliberately not exposed to the holder of a stale token.
	ErrorCodeInvalidSession ErrorCode = -32001
	// ErrorCodeInsufficientPermissions indicates the identity is valid but
	// lacks a required permission.
	ErrorCodeInsufficientPermissions ErrorCode = -32002
	// ErrorCodeAlreadyAuthenticated indicates a second identity attachment
	// on a connection that already has one.
	ErrorCodeAlreadyAuthenticated ErrorCode = -32003
	// ErrorCodeUnknownConnection indicates the target connection is not
	// registered.
	ErrorCodeUnknownConnection ErrorCode = -32004
)

// Error is the structured error object clients receive in response and
// error frames.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// CloseReason is the reason code attached to a ConnectionClosed lifecycle
// frame.
type CloseReason string

const (
	// CloseReasonClientDisconnect marks a close initiated by the peer.
	CloseReasonClientDisconnect CloseReason = "client_disconnect"
	// CloseReasonTransportClosed marks an abrupt transport failure.
	CloseReasonTransportClosed CloseReason = "transport_closed"
	// CloseReasonHeartbeatTimeout marks a connection that missed a ping
	// deadline.
	CloseReasonHeartbeatTimeout CloseReason = "heartbeat_timeout"
	// CloseReasonSessionRevoked marks a close forced by session revocation.
	CloseReasonSessionRevoked CloseReason = "session_revoked"
	// CloseReasonServerShutdown marks a close during orderly shutdown.
	CloseReasonServerShutdown CloseReason = "server_shutdown"
)
