package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFrame_DecodeValidVariants(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want FrameType
	}{
		{"request string id", `{"type":"request","id":"r1","method":"users.get"}`, FrameRequest},
		{"request numeric id", `{"type":"request","id":7,"method":"users.get","params":{"id":42}}`, FrameRequest},
		{"response result", `{"type":"response","id":7,"result":{"ok":true}}`, FrameResponse},
		{"response error", `{"type":"response","id":"r1","error":{"code":-32601,"message":"method not found"}}`, FrameResponse},
		{"notification", `{"type":"notification","method":"error","params":{"code":-32000}}`, FrameNotification},
		{"broadcast", `{"type":"broadcast","topic":"orders","method":"orders.updated","params":{}}`, FrameBroadcast},
		{"subscribe", `{"type":"subscribe","topic":"orders"}`, FrameSubscribe},
		{"unsubscribe", `{"type":"unsubscribe","topic":"orders"}`, FrameUnsubscribe},
		{"connection established", `{"type":"connection_established","connection_id":"c1"}`, FrameConnectionEstablished},
		{"connection closed", `{"type":"connection_closed","connection_id":"c1","reason":"server_shutdown"}`, FrameConnectionClosed},
		{"ping", `{"type":"ping","nonce":"n1"}`, FramePing},
		{"pong", `{"type":"pong","nonce":"n1"}`, FramePong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Failed to decode frame: %v", err)
			}
			if f.Type != tc.want {
				t.Fatalf("Expected type %q, got %q", tc.want, f.Type)
			}
		})
	}
}

func TestFrame_DecodeRejectsMalformedVariants(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"missing type", `{"id":1,"method":"x"}`, "requires a type"},
		{"unknown type", `{"type":"gossip"}`, "unknown frame type"},
		{"request without id", `{"type":"request","method":"x"}`, "requires an id"},
		{"request without method", `{"type":"request","id":1}`, "requires a method"},
		{"request carrying result", `{"type":"request","id":1,"method":"x","result":{}}`, "cannot carry result"},
		{"response without id", `{"type":"response","result":{}}`, "requires an id"},
		{"response with neither result nor error", `{"type":"response","id":1}`, "requires either result or error"},
		{"response with both result and error", `{"type":"response","id":1,"result":{},"error":{"code":1,"message":"x"}}`, "cannot carry both"},
		{"notification without method", `{"type":"notification"}`, "requires a method"},
		{"broadcast without topic", `{"type":"broadcast","method":"x"}`, "requires a topic"},
		{"broadcast without method", `{"type":"broadcast","topic":"t"}`, "requires a method"},
		{"subscribe without topic", `{"type":"subscribe"}`, "requires a topic"},
		{"ping without nonce", `{"type":"ping"}`, "requires a nonce"},
		{"established without connection id", `{"type":"connection_established"}`, "requires a connection_id"},
		{"not json", `{"type":`, "invalid JSON"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in))
			if err == nil {
				t.Fatalf("Expected decode error for %s", tc.in)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

func TestFrame_ResponseIDEchoesRequestID(t *testing.T) {
	req, err := Decode([]byte(`{"type":"request","id":42,"method":"orders.list"}`))
	if err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}

	resp, err := NewResultResponse(req.ID, map[string]any{"orders": []string{}})
	if err != nil {
		t.Fatalf("Failed to build response: %v", err)
	}

	data, err := resp.Encode()
	if err != nil {
		t.Fatalf("Failed to encode response: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode encoded response: %v", err)
	}
	if decoded.ID.String() != "42" {
		t.Fatalf("Expected echoed id 42, got %q", decoded.ID.String())
	}
}

func TestFrame_EncodeOmitsEmptyVariantFields(t *testing.T) {
	f := NewPing("n1")
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Failed to encode ping: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal encoded frame: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("Expected only type and nonce on the wire, got keys %v", keysOf(raw))
	}
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestRequestID_StringAndNumberForms(t *testing.T) {
	var sid RequestID
	if err := json.Unmarshal([]byte(`"abc"`), &sid); err != nil {
		t.Fatalf("Failed to unmarshal string id: %v", err)
	}
	if sid.String() != "abc" {
		t.Fatalf("Expected string id abc, got %q", sid.String())
	}

	var nid RequestID
	if err := json.Unmarshal([]byte(`17`), &nid); err != nil {
		t.Fatalf("Failed to unmarshal numeric id: %v", err)
	}
	if nid.String() != "17" {
		t.Fatalf("Expected numeric id 17, got %q", nid.String())
	}

	var bad RequestID
	if err := json.Unmarshal([]byte(`{"x":1}`), &bad); err == nil {
		t.Fatal("Expected error for object-valued id")
	}
}

func TestRequestID_NilMarshalsAsNull(t *testing.T) {
	var id *RequestID
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Failed to marshal nil id: %v", err)
	}
	if string(data) != "null" {
		t.Fatalf("Expected null, got %s", data)
	}
	if !id.IsNil() {
		t.Fatal("Expected nil id to report IsNil")
	}
}
