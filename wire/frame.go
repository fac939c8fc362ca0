package wire

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates the closed variant set of frames.
type FrameType string

const (
	// FrameRequest is an RPC request correlated by id.
	FrameRequest FrameType = "request"
	// FrameResponse answers a request, echoing its id.
	FrameResponse FrameType = "response"
	// FrameNotification is a server-initiated one-way message to a single
	// connection.
	FrameNotification FrameType = "notification"
	// FrameBroadcast is a server-to-many message fanned out to a topic's
	// subscribers.
	FrameBroadcast FrameType = "broadcast"
	// FrameSubscribe asks to join a topic.
	FrameSubscribe FrameType = "subscribe"
	// FrameUnsubscribe asks to leave a topic.
	FrameUnsubscribe FrameType = "unsubscribe"
	// FrameConnectionEstablished announces the connection's assigned id.
	FrameConnectionEstablished FrameType = "connection_established"
	// FrameConnectionClosed announces a connection's removal and the reason.
	FrameConnectionClosed FrameType = "connection_closed"
	// FramePing is a liveness probe; the peer must answer with a pong
	// carrying the same nonce.
	FramePing FrameType = "ping"
	// FramePong answers a ping.
	FramePong FrameType = "pong"
)

// Frame is one protocol frame. Exactly one variant's field set is populated,
// as determined by Type; UnmarshalJSON enforces the variant's shape.
type Frame struct {
	Type FrameType `json:"type"`

	// Request / Response / Notification / Broadcast
	ID     *RequestID      `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`

	// Broadcast / Subscribe / Unsubscribe
	Topic string `json:"topic,omitempty"`

	// ConnectionEstablished / ConnectionClosed
	ConnectionID string      `json:"connection_id,omitempty"`
	Reason       CloseReason `json:"reason,omitempty"`

	// Ping / Pong
	Nonce string `json:"nonce,omitempty"`
}

// NewRequest builds a request frame with the given correlation id.
func NewRequest(id *RequestID, method string, params any) (*Frame, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = b
	}
	return &Frame{Type: FrameRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResultResponse builds a successful response frame echoing id.
func NewResultResponse(id *RequestID, result any) (*Frame, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Frame{Type: FrameResponse, ID: id, Result: b}, nil
}

// NewErrorResponse builds an error response frame echoing id.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Frame {
	return &Frame{
		Type: FrameResponse,
		ID:   id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NewNotification builds a server-initiated notification frame.
func NewNotification(method string, params any) (*Frame, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = b
	}
	return &Frame{Type: FrameNotification, Method: method, Params: raw}, nil
}

// NewBroadcast builds a topic broadcast frame.
func NewBroadcast(topic, method string, params any) (*Frame, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = b
	}
	return &Frame{Type: FrameBroadcast, Topic: topic, Method: method, Params: raw}, nil
}

// NewSubscribe builds a subscribe frame.
func NewSubscribe(topic string) *Frame {
	return &Frame{Type: FrameSubscribe, Topic: topic}
}

// NewUnsubscribe builds an unsubscribe frame.
func NewUnsubscribe(topic string) *Frame {
	return &Frame{Type: FrameUnsubscribe, Topic: topic}
}

// NewConnectionEstablished builds the admission announcement frame.
func NewConnectionEstablished(connectionID string) *Frame {
	return &Frame{Type: FrameConnectionEstablished, ConnectionID: connectionID}
}

// NewConnectionClosed builds the removal announcement frame.
func NewConnectionClosed(connectionID string, reason CloseReason) *Frame {
	return &Frame{Type: FrameConnectionClosed, ConnectionID: connectionID, Reason: reason}
}

// NewPing builds a ping frame carrying nonce.
func NewPing(nonce string) *Frame {
	return &Frame{Type: FramePing, Nonce: nonce}
}

// NewPong builds the pong answering the ping that carried nonce.
func NewPong(nonce string) *Frame {
	return &Frame{Type: FramePong, Nonce: nonce}
}

// UnmarshalJSON enforces the per-variant shape: a frame that names a type
// but carries the wrong field set is rejected rather than partially
// interpreted.
func (f *Frame) UnmarshalJSON(data []byte) error {
	type rawFrame struct {
		Type         FrameType       `json:"type"`
		ID           *RequestID      `json:"id,omitempty"`
		Method       string          `json:"method,omitempty"`
		Params       json.RawMessage `json:"params,omitempty"`
		Result       json.RawMessage `json:"result,omitempty"`
		Error        *Error          `json:"error,omitempty"`
		Topic        string          `json:"topic,omitempty"`
		ConnectionID string          `json:"connection_id,omitempty"`
		Reason       CloseReason     `json:"reason,omitempty"`
		Nonce        string          `json:"nonce,omitempty"`
	}

	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	switch raw.Type {
	case FrameRequest:
		if raw.Method == "" {
			return fmt.Errorf("request frame requires a method")
		}
		if raw.ID.IsNil() {
			return fmt.Errorf("request frame requires an id")
		}
		if len(raw.Result) > 0 || raw.Error != nil {
			return fmt.Errorf("request frame cannot carry result or error")
		}
	case FrameResponse:
		if raw.ID.IsNil() {
			return fmt.Errorf("response frame requires an id")
		}
		hasResult := len(raw.Result) > 0
		hasError := raw.Error != nil
		if hasResult && hasError {
			return fmt.Errorf("response frame cannot carry both result and error")
		}
		if !hasResult && !hasError {
			return fmt.Errorf("response frame requires either result or error")
		}
	case FrameNotification:
		if raw.Method == "" {
			return fmt.Errorf("notification frame requires a method")
		}
	case FrameBroadcast:
		if raw.Topic == "" {
			return fmt.Errorf("broadcast frame requires a topic")
		}
		if raw.Method == "" {
			return fmt.Errorf("broadcast frame requires a method")
		}
	case FrameSubscribe, FrameUnsubscribe:
		if raw.Topic == "" {
			return fmt.Errorf("%s frame requires a topic", raw.Type)
		}
	case FrameConnectionEstablished:
		if raw.ConnectionID == "" {
			return fmt.Errorf("connection_established frame requires a connection_id")
		}
	case FrameConnectionClosed:
		if raw.ConnectionID == "" {
			return fmt.Errorf("connection_closed frame requires a connection_id")
		}
	case FramePing, FramePong:
		if raw.Nonce == "" {
			return fmt.Errorf("%s frame requires a nonce", raw.Type)
		}
	case "":
		return fmt.Errorf("frame requires a type")
	default:
		return fmt.Errorf("unknown frame type: %q", raw.Type)
	}

	f.Type = raw.Type
	f.ID = raw.ID
	f.Method = raw.Method
	f.Params = raw.Params
	f.Result = raw.Result
	f.Error = raw.Error
	f.Topic = raw.Topic
	f.ConnectionID = raw.ConnectionID
	f.Reason = raw.Reason
	f.Nonce = raw.Nonce

	return nil
}

// Encode marshals the frame for transmission.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses and validates a single frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
