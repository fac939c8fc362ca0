package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wirehub/wirehub/auth"
)

// ErrRefreshDisabled is returned by Redeem when refresh tokens are not
// configured.
var ErrRefreshDisabled = errors.New("sessions: refresh tokens disabled")

// Config is the signing boundary for the session service. Key material and
// algorithm selection are external configuration; the service never invents
// either.
type Config struct {
	// Secret is the signing key material: the HMAC key for HS* algorithms,
	// or the 32-byte Ed25519 seed for EdDSA. Ignored when Keys is set.
	Secret []byte
	// Keys optionally supplies key material dynamically (e.g. a hot-reloaded
	// key file). Takes precedence over Secret.
	Keys KeySource
	// TTL is the fixed session lifetime stamped at issuance.
	TTL time.Duration
	// Algorithm selects the token signing scheme: HS256 (default), HS384,
	// HS512, or EdDSA.
	Algorithm string
	// Issuer is stamped into and required of every token.
	Issuer string
	// RefreshEnabled controls whether CreateSession also mints a refresh
	// token redeemable (once per session) for a brand-new session.
	RefreshEnabled bool
	// RefreshTTL is the refresh token lifetime. Defaults to 24h when
	// refresh is enabled.
	RefreshTTL time.Duration
	Logger     *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.Issuer == "" {
		c.Issuer = "wirehub"
	}
	if c.RefreshEnabled && c.RefreshTTL == 0 {
		c.RefreshTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// VerifiedUser is an identity already authenticated by an upstream
// mechanism (password check, OAuth2 exchange); the service only records it.
type VerifiedUser struct {
	UserID      string
	Username    string
	Permissions []string
}

// TokenPair is the result of session creation: the session token, the
// refresh token when enabled, and the stored record.
type TokenPair struct {
	SessionToken string
	RefreshToken string
	Session      *Session
}

// Service issues, validates, and revokes bearer sessions. It implements
// auth.Gate, so it can be handed directly to the connection registry and to
// RPC dispatchers. Safe for concurrent use.
type Service struct {
	store Store
	codec TokenCodec
	cfg   Config
	log   *slog.Logger

	now func() time.Time
}

// NewService constructs a Service over the given store.
func NewService(store Store, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	cfg.applyDefaults()

	keys := cfg.Keys
	if keys == nil {
		if len(cfg.Secret) == 0 {
			return nil, errors.New("signing key material is required")
		}
		keys = StaticKey(cfg.Secret)
	}
	codec, err := NewCodec(cfg.Algorithm, cfg.Issuer, keys)
	if err != nil {
		return nil, err
	}

	return &Service{
		store: store,
		codec: codec,
		cfg:   cfg,
		log:   cfg.Logger,
		now:   time.Now,
	}, nil
}

// CreateSession mints a fresh session for an upstream-verified identity and
// returns its signed token(s). Fails only on signing or storage failure.
func (s *Service) CreateSession(ctx context.Context, user VerifiedUser) (*TokenPair, error) {
	now := s.now().UTC()
	sess := &Session{
		SessionID:   uuid.NewString(),
		UserID:      user.UserID,
		Username:    user.Username,
		Permissions: append([]string(nil), user.Permissions...),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}

	token, err := s.codec.Sign(s.claimsFor(sess, tokenUseSession, sess.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	pair := &TokenPair{SessionToken: token, Session: sess}
	if s.cfg.RefreshEnabled {
		refresh, err := s.codec.Sign(s.claimsFor(sess, tokenUseRefresh, now.Add(s.cfg.RefreshTTL)))
		if err != nil {
			return nil, fmt.Errorf("failed to sign refresh token: %w", err)
		}
		pair.RefreshToken = refresh
	}

	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.log.Debug("session created",
		slog.String("session_id", sess.SessionID),
		slog.String("user_id", sess.UserID),
		slog.Time("expires_at", sess.ExpiresAt),
	)
	return pair, nil
}

// Validate verifies a session token end to end: signature and structure,
// expiry, then the live store record. A revoked or unknown session fails
// with auth.ErrSessionRevoked; callers surfacing the failure to a peer must
// collapse it with the other invalid-session causes (auth.IsInvalidSession).
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseSession {
		return nil, fmt.Errorf("%w: not a session token", auth.ErrInvalidToken)
	}

	sess, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Absence is indistinguishable from revocation by design.
			return nil, auth.ErrSessionRevoked
		}
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if sess.Revoked {
		return nil, auth.ErrSessionRevoked
	}
	if sess.Expired(s.now()) {
		return nil, auth.ErrExpiredToken
	}
	return sess, nil
}

// Redeem exchanges a refresh token for a brand-new session and revokes the
// old one; a session is never resurrected or extended in place. Redemption
// requires the backing record to still be live, so clients renew before
// expiry rather than after.
func (s *Service) Redeem(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !s.cfg.RefreshEnabled {
		return nil, ErrRefreshDisabled
	}
	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", auth.ErrInvalidToken)
	}

	prev, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, auth.ErrSessionRevoked
		}
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if prev.Revoked {
		return nil, auth.ErrSessionRevoked
	}

	if err := s.store.Revoke(ctx, prev.SessionID); err != nil {
		return nil, fmt.Errorf("failed to revoke prior session: %w", err)
	}
	return s.CreateSession(ctx, VerifiedUser{
		UserID:      prev.UserID,
		Username:    prev.Username,
		Permissions: prev.Permissions,
	})
}

// EndSession revokes the session. Idempotent; unknown and already-revoked
// ids are a no-op.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if err := s.store.Revoke(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.log.Debug("session revoked", slog.String("session_id", sessionID))
	return nil
}

// ActiveSessionCount counts sessions that are neither revoked nor expired.
func (s *Service) ActiveSessionCount(ctx context.Context) (int, error) {
	return s.store.ActiveCount(ctx)
}

// Authenticate implements auth.Authenticator over Validate.
func (s *Service) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	sess, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{
		UserID:      sess.UserID,
		Username:    sess.Username,
		SessionID:   sess.SessionID,
		Permissions: append([]string(nil), sess.Permissions...),
	}, nil
}

// CheckPermissions implements auth.Gate. The backing session is re-read on
// every call, so a revocation is honored on the next gated operation even
// when the identity was attached to its connection long ago.
func (s *Service) CheckPermissions(ctx context.Context, identity *auth.Identity, required []string) error {
	if identity == nil {
		return auth.ErrAuthenticationRequired
	}
	sess, err := s.store.Get(ctx, identity.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return auth.ErrSessionRevoked
		}
		return fmt.Errorf("session lookup failed: %w", err)
	}
	if sess.Revoked {
		return auth.ErrSessionRevoked
	}
	if sess.Expired(s.now()) {
		return auth.ErrExpiredToken
	}
	return auth.RequireAll(identity, required)
}

func (s *Service) claimsFor(sess *Session, use string, expires time.Time) *Claims {
	return &Claims{
		Username:    sess.Username,
		Permissions: sess.Permissions,
		TokenUse:    use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.SessionID,
			Subject:   sess.UserID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

var _ auth.Gate = (*Service)(nil)
