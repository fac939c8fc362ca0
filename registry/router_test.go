package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wirehub/wirehub/wire"
)

func decodeErrorPayload(t *testing.T, f *wire.Frame) ErrorPayload {
	t.Helper()
	if f.Type != wire.FrameNotification || f.Method != "error" {
		t.Fatalf("Expected error notification, got %+v", f)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(f.Params, &payload); err != nil {
		t.Fatalf("Failed to decode error payload: %v", err)
	}
	return payload
}

func TestOnFrame_UnknownConnection(t *testing.T) {
	r := New(Config{})
	err := r.OnFrame(context.Background(), "absent", wire.NewPing("n"))
	if !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Expected ErrUnknownConnection, got %v", err)
	}
}

func TestOnFrame_PingAnsweredWithPong(t *testing.T) {
	ctx := context.Background()
	r := New(Config{})
	h := register(t, r)

	if err := r.OnFrame(ctx, h.ID, wire.NewPing("client-nonce")); err != nil {
		t.Fatalf("Failed to route ping: %v", err)
	}

	f := recvFrame(t, h)
	if f.Type != wire.FramePong || f.Nonce != "client-nonce" {
		t.Fatalf("Expected pong echoing nonce, got %+v", f)
	}
}

func TestOnFrame_SubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	r := New(Config{})
	h := register(t, r)

	if err := r.OnFrame(ctx, h.ID, wire.NewSubscribe("orders")); err != nil {
		t.Fatalf("Failed to route subscribe: %v", err)
	}
	if n := r.SubscriberCount("orders"); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}

	if err := r.OnFrame(ctx, h.ID, wire.NewUnsubscribe("orders")); err != nil {
		t.Fatalf("Failed to route unsubscribe: %v", err)
	}
	if n := r.SubscriberCount("orders"); n != 0 {
		t.Fatalf("Expected 0 subscribers, got %d", n)
	}
}

func TestOnFrame_SubscribeDeniedSendsErrorNotification(t *testing.T) {
	ctx := context.Background()
	r := New(Config{
		TopicPermissions: func(topic string) []string {
			if topic == "admin.events" {
				return []string{"admin"}
			}
			return nil
		},
	})
	h := register(t, r)

	if err := r.OnFrame(ctx, h.ID, wire.NewSubscribe("admin.events")); err != nil {
		t.Fatalf("OnFrame should swallow the denial into a notification, got %v", err)
	}

	payload := decodeErrorPayload(t, recvFrame(t, h))
	if payload.Code != wire.ErrorCodeAuthenticationRequired {
		t.Fatalf("Expected code %d, got %d", wire.ErrorCodeAuthenticationRequired, payload.Code)
	}
	if n := r.SubscriberCount("admin.events"); n != 0 {
		t.Fatalf("Expected no subscription after denial, got %d", n)
	}

	// With an underprivileged identity the code shifts to permissions.
	if err := r.AttachIdentity(h.ID, testIdentity("orders:read")); err != nil {
		t.Fatalf("Failed to attach identity: %v", err)
	}
	if err := r.OnFrame(ctx, h.ID, wire.NewSubscribe("admin.events")); err != nil {
		t.Fatalf("Failed to route subscribe: %v", err)
	}
	payload = decodeErrorPayload(t, recvFrame(t, h))
	if payload.Code != wire.ErrorCodeInsufficientPermissions {
		t.Fatalf("Expected code %d, got %d", wire.ErrorCodeInsufficientPermissions, payload.Code)
	}

	// The denial names both the required and the held permission sets.
	var detail struct {
		Required []string `json:"required"`
		Held     []string `json:"held"`
	}
	data, err := json.Marshal(payload.Data)
	if err != nil {
		t.Fatalf("Failed to re-encode error data: %v", err)
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("Failed to decode error data: %v", err)
	}
	if len(detail.Required) != 1 || detail.Required[0] != "admin" {
		t.Fatalf("Expected required [admin], got %v", detail.Required)
	}
	if len(detail.Held) != 1 || detail.Held[0] != "orders:read" {
		t.Fatalf("Expected held [orders:read], got %v", detail.Held)
	}

	// An open topic needs nothing.
	if err := r.OnFrame(ctx, h.ID, wire.NewSubscribe("public")); err != nil {
		t.Fatalf("Failed to subscribe to open topic: %v", err)
	}
	if n := r.SubscriberCount("public"); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}
}

func TestOnFrame_AuthenticatedOnlyTopic(t *testing.T) {
	ctx := context.Background()
	r := New(Config{
		// Non-nil empty: any valid identity, no specific permission.
		TopicPermissions: func(topic string) []string { return []string{} },
	})
	h := register(t, r)

	if err := r.OnFrame(ctx, h.ID, wire.NewSubscribe("rooms.lobby")); err != nil {
		t.Fatalf("Failed to route subscribe: %v", err)
	}
	payload := decodeErrorPayload(t, recvFrame(t, h))
	if payload.Code != wire.ErrorCodeAuthenticationRequired {
		t.Fatalf("Expected authentication-required, got %d", payload.Code)
	}

	if err := r.AttachIdentity(h.ID, testIdentity()); err != nil {
		t.Fatalf("Failed to attach identity: %v", err)
	}
	if err := r.OnFrame(ctx, h.ID, wire.NewSubscribe("rooms.lobby")); err != nil {
		t.Fatalf("Failed to route subscribe: %v", err)
	}
	if n := r.SubscriberCount("rooms.lobby"); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}
}

func TestOnFrame_RequestDispatchedToHandler(t *testing.T) {
	ctx := context.Background()

	type call struct {
		connID ConnectionID
		method string
	}
	calls := make(chan call, 1)

	var r *Registry
	r = New(Config{
		RequestHandler: func(ctx context.Context, connID ConnectionID, req *wire.Frame) {
			calls <- call{connID, req.Method}
			resp, err := wire.NewResultResponse(req.ID, "ok")
			if err != nil {
				return
			}
			_ = r.SendTo(ctx, connID, resp)
		},
	})
	h := register(t, r)

	req, err := wire.NewRequest(wire.NewRequestID(1), "orders.list", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if err := r.OnFrame(ctx, h.ID, req); err != nil {
		t.Fatalf("Failed to route request: %v", err)
	}

	select {
	case got := <-calls:
		if got.connID != h.ID || got.method != "orders.list" {
			t.Fatalf("Unexpected handler call: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handler never invoked")
	}

	resp := recvFrame(t, h)
	if resp.Type != wire.FrameResponse || resp.ID.String() != "1" {
		t.Fatalf("Unexpected response: %+v", resp)
	}
}

func TestOnFrame_RequestWithoutHandlerAnswersMethodNotFound(t *testing.T) {
	ctx := context.Background()
	r := New(Config{})
	h := register(t, r)

	req, err := wire.NewRequest(wire.NewRequestID("r1"), "anything", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if err := r.OnFrame(ctx, h.ID, req); err != nil {
		t.Fatalf("Failed to route request: %v", err)
	}

	resp := recvFrame(t, h)
	if resp.Type != wire.FrameResponse || resp.Error == nil {
		t.Fatalf("Expected error response, got %+v", resp)
	}
	if resp.Error.Code != wire.ErrorCodeMethodNotFound {
		t.Fatalf("Expected method-not-found, got %d", resp.Error.Code)
	}
	if resp.ID.String() != "r1" {
		t.Fatalf("Expected echoed id r1, got %s", resp.ID.String())
	}
}

func TestOnFrame_RejectsServerOriginatedTypes(t *testing.T) {
	ctx := context.Background()
	r := New(Config{})
	h := register(t, r)

	inbound := &wire.Frame{Type: wire.FrameConnectionEstablished, ConnectionID: "spoofed"}
	if err := r.OnFrame(ctx, h.ID, inbound); err != nil {
		t.Fatalf("Expected rejection via notification, got %v", err)
	}

	payload := decodeErrorPayload(t, recvFrame(t, h))
	if payload.Code != wire.ErrorCodeInvalidRequest {
		t.Fatalf("Expected invalid-request code, got %d", payload.Code)
	}
}
