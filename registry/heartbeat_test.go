package registry

import (
	"context"
	"testing"
	"time"

	"github.com/wirehub/wirehub/wire"
)

func TestHeartbeat_MissedPongRemovesConnection(t *testing.T) {
	r := New(Config{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  30 * time.Millisecond,
	})
	h := register(t, r)

	ping := recvFrame(t, h)
	if ping.Type != wire.FramePing || ping.Nonce == "" {
		t.Fatalf("Expected ping with nonce, got %+v", ping)
	}

	// Never answer; a single missed deadline is fatal.
	select {
	case <-h.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected removal after missed pong")
	}
	if got := h.CloseReason(); got != wire.CloseReasonHeartbeatTimeout {
		t.Fatalf("Expected close reason heartbeat_timeout, got %s", got)
	}
	if r.Len() != 0 {
		t.Fatalf("Expected empty registry, got %d", r.Len())
	}
}

func TestHeartbeat_PongKeepsConnectionAlive(t *testing.T) {
	ctx := context.Background()
	r := New(Config{
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
	})
	h := register(t, r)

	// Answer pings for several intervals.
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case f := <-h.Outbound:
			if f.Type != wire.FramePing {
				t.Fatalf("Unexpected outbound frame: %+v", f)
			}
			if err := r.OnFrame(ctx, h.ID, wire.NewPong(f.Nonce)); err != nil {
				t.Fatalf("Failed to route pong: %v", err)
			}
		case <-h.Done:
			t.Fatal("Connection removed despite timely pongs")
		case <-deadline:
			if r.Len() != 1 {
				t.Fatalf("Expected connection to survive, got %d", r.Len())
			}
			return
		}
	}
}

func TestHeartbeat_StaleNonceDoesNotSatisfyDeadline(t *testing.T) {
	ctx := context.Background()
	r := New(Config{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  40 * time.Millisecond,
	})
	h := register(t, r)

	ping := recvFrame(t, h)
	if ping.Type != wire.FramePing {
		t.Fatalf("Expected ping, got %+v", ping)
	}

	// A pong for a different nonce must not count.
	if err := r.OnFrame(ctx, h.ID, wire.NewPong("wrong-"+ping.Nonce)); err != nil {
		t.Fatalf("Failed to route pong: %v", err)
	}

	select {
	case <-h.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected removal; stale pong should not satisfy the deadline")
	}
	if got := h.CloseReason(); got != wire.CloseReasonHeartbeatTimeout {
		t.Fatalf("Expected close reason heartbeat_timeout, got %s", got)
	}
}
