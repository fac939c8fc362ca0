package memorystore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wirehub/wirehub/sessions"
)

func testSession(id string, ttl time.Duration) *sessions.Session {
	now := time.Now()
	return &sessions.Session{
		SessionID:   id,
		UserID:      "u1",
		Username:    "alice",
		Permissions: []string{"orders:read"},
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestStore_PutGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.SessionID != "s1" || got.UserID != "u1" {
		t.Fatalf("Unexpected session: %+v", got)
	}

	// Mutating the returned copy must not leak into the store.
	got.Revoked = true
	got.Permissions[0] = "mutated"

	again, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to re-get session: %v", err)
	}
	if again.Revoked {
		t.Fatal("Expected stored record to be unaffected by caller mutation")
	}
	if again.Permissions[0] != "orders:read" {
		t.Fatalf("Expected permissions copy, got %v", again.Permissions)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_ExpiredRecordIsLazilyDropped(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, testSession("s1", -time.Minute)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Expected expired record to read as not found, got %v", err)
	}

	s.mu.RLock()
	_, present := s.sessions["s1"]
	s.mu.RUnlock()
	if present {
		t.Fatal("Expected expired record to be removed on read")
	}
}

func TestStore_RevokeIsMonotonicTombstone(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if err := s.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("Failed to revoke: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if !got.Revoked {
		t.Fatal("Expected record to be revoked")
	}

	// Revoking an unknown id is a no-op, not an error.
	if err := s.Revoke(ctx, "absent"); err != nil {
		t.Fatalf("Expected revoke of unknown id to succeed, got %v", err)
	}
}

func TestStore_ConcurrentGetAndRevoke(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}

	// Validation and revocation race under -race: Get must snapshot the
	// record before Revoke's in-place write can be observed mid-copy.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Get(ctx, "s1"); err != nil {
				t.Errorf("Failed to get session: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.Revoke(ctx, "s1"); err != nil {
				t.Errorf("Failed to revoke: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if !got.Revoked {
		t.Fatal("Expected record to end up revoked")
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("Expected deleted record to be gone, got %v", err)
	}
}

func TestStore_ActiveCountExcludesRevokedAndExpired(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Put(ctx, testSession("live", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if err := s.Put(ctx, testSession("expired", -time.Minute)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if err := s.Put(ctx, testSession("revoked", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if err := s.Revoke(ctx, "revoked"); err != nil {
		t.Fatalf("Failed to revoke: %v", err)
	}

	n, err := s.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 active session, got %d", n)
	}
}

func TestStore_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	if err := s.Put(ctx, testSession("live", time.Hour)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if err := s.Put(ctx, testSession("expired", -time.Minute)); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}

	s.sweepExpired(time.Now())

	s.mu.RLock()
	_, liveOK := s.sessions["live"]
	_, expiredOK := s.sessions["expired"]
	s.mu.RUnlock()
	if !liveOK {
		t.Fatal("Expected live record to survive sweep")
	}
	if expiredOK {
		t.Fatal("Expected expired record to be swept")
	}
}
