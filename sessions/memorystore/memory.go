// Package memorystore provides the in-memory sessions.Store used by
// single-process deployments and tests. Multi-process deployments should
// use redisstore or another shared backend implementing the same contract.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/wirehub/wirehub/sessions"
)

// Store is an in-memory sessions.Store guarded by a single RWMutex. Session
// validation is read-mostly, so concurrent Gets do not contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessions.Session

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]*sessions.Session),
		sweepStop: make(chan struct{}),
	}
}

// Put implements sessions.Store.
func (s *Store) Put(ctx context.Context, sess *sessions.Session) error {
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess.Clone()
	s.mu.Unlock()
	return nil
}

// Get implements sessions.Store. Expired records are lazily removed and
// reported as not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	now := time.Now()

	// Clone under the read lock: Revoke mutates the stored record in place.
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	if ok && !sess.Expired(now) {
		snap := sess.Clone()
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}

	s.mu.Lock()
	// Recheck under the write lock; a concurrent Put may have replaced it.
	if cur, ok := s.sessions[sessionID]; ok && cur.Expired(now) {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	return nil, sessions.ErrSessionNotFound
}

// Revoke implements sessions.Store. The revoked flag is monotonic; the
// tombstone remains until the record's expiry passes.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Revoked = true
	}
	s.mu.Unlock()
	return nil
}

// Delete implements sessions.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// ActiveCount implements sessions.Store with a lazy scan: expired and
// revoked records are excluded at read time.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Active(now) {
			n++
		}
	}
	return n, nil
}

// StartSweep launches a background loop that removes expired records every
// interval. Optional: Get already drops expired records lazily; the sweep
// just bounds memory held by sessions nobody validates again.
func (s *Store) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				s.sweepExpired(time.Now())
			}
		}
	}()
}

// Close stops the sweep loop if one was started.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
}

func (s *Store) sweepExpired(now time.Time) {
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
}

var _ sessions.Store = (*Store)(nil)
