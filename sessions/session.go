package sessions

import (
	"context"
	"errors"
	"time"
)

// Session is the server-side record backing one issued bearer token.
type Session struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Permissions []string  `json:"permissions,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	// Revoked is monotonic: once true it never returns to false.
	Revoked bool `json:"revoked"`
}

// Expired reports whether the session's fixed expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Active reports whether the session is neither revoked nor expired.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}

// Clone returns a copy safe to hand outside the store.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Permissions = append([]string(nil), s.Permissions...)
	return &cp
}

// ErrSessionNotFound is returned by Store.Get for unknown session ids.
var ErrSessionNotFound = errors.New("sessions: session not found")

// Store is the authoritative mapping from session id to Session record.
// Implementations must support concurrent validate/revoke from many
// connections; a Revoke must be visible to every Get that starts after it
// returns (read-after-write consistency).
type Store interface {
	// Put persists a new session record.
	Put(ctx context.Context, sess *Session) error
	// Get returns a copy of the record, or ErrSessionNotFound. Expired
	// records may be lazily deleted and reported as not found.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Revoke marks the session revoked. Idempotent; unknown ids are a
	// no-op, not an error.
	Revoke(ctx context.Context, sessionID string) error
	// Delete removes the record entirely. Idempotent.
	Delete(ctx context.Context, sessionID string) error
	// ActiveCount returns the number of non-revoked, non-expired sessions.
	// It may be eventually consistent with concurrent expiry but must never
	// count a session the caller can independently observe as revoked.
	ActiveCount(ctx context.Context) (int, error)
}
