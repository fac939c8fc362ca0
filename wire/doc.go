// Package wire defines the closed set of frame variants that cross a
// wirehub connection, plus the JSON-RPC 2.0 request/response objects they
// carry. The variant set is fixed: every consumer switches exhaustively on
// FrameType and treats an unknown type as a protocol violation rather than
// an extension point.
//
// A connection is a single ordered inbound stream and a single ordered
// outbound stream. Request/response pairs are correlated by a caller-chosen
// id (string or number); nothing else orders independent requests on the
// same connection.
package wire
