package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidToken indicates a malformed or forged token.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrExpiredToken indicates a structurally valid token past its expiry.
var ErrExpiredToken = errors.New("auth: expired token")

// ErrSessionRevoked indicates the token's backing session was revoked or is
// unknown to the store. Absence is treated identically to revocation so a
// stale token cannot probe session lifecycle state.
var ErrSessionRevoked = errors.New("auth: session revoked")

// ErrAuthenticationRequired indicates an operation that needs an identity
// was attempted on an unauthenticated connection.
var ErrAuthenticationRequired = errors.New("auth: authentication required")

// PermissionError reports a failed permission check, listing both the
// required and the held sets. The sets are for observability of an
// already-authenticated identity, not an information leak surface.
type PermissionError struct {
	Required []string
	Held     []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("auth: insufficient permissions: required [%s], held [%s]",
		strings.Join(e.Required, " "), strings.Join(e.Held, " "))
}

// Identity is an authenticated principal with its permission set. Values are
// immutable once issued; treat fields as read-only.
type Identity struct {
	UserID      string
	Username    string
	SessionID   string
	Permissions []string
}

// HasPermission reports whether the identity holds perm.
func (id *Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Authenticator validates bearer tokens and returns the identity they
// assert. The token string is accepted bare, regardless of which carrier
// (Authorization header, X-Auth-Token, WebSocket subprotocol) delivered it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// Gate is the full capability: authentication plus per-message permission
// checks. CheckPermissions with an empty required set means "any valid,
// non-revoked identity" — pure authentication without a specific
// authorization requirement.
type Gate interface {
	Authenticator
	CheckPermissions(ctx context.Context, identity *Identity, required []string) error
}

// RequireAll verifies identity holds every permission in required. It does
// not consult any backend; gates that need live revocation checks layer
// this under a session lookup.
func RequireAll(identity *Identity, required []string) error {
	if identity == nil {
		return ErrAuthenticationRequired
	}
	var missing bool
	for _, want := range required {
		if !identity.HasPermission(want) {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}
	held := append([]string(nil), identity.Permissions...)
	req := append([]string(nil), required...)
	sort.Strings(held)
	sort.Strings(req)
	return &PermissionError{Required: req, Held: held}
}

// IsInvalidSession reports whether err belongs to the collapsed
// externally-visible "invalid session" class: malformed, expired, revoked,
// or unknown. Callers surfacing errors to a peer must not distinguish
// within this class.
func IsInvalidSession(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrSessionRevoked)
}
