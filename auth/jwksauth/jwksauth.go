// Package jwksauth validates bearer tokens minted by an external identity
// provider, using either a statically configured JWKS URI or OIDC
// discovery. It is the arbitrary-external-backend implementation of
// auth.Gate: identities come from the issuer's signed claims, and there is
// no local session store to revoke against, so permission checks are pure
// set checks on the token's claims.
package jwksauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wirehub/wirehub/auth"
)

// Config controls validation policy for externally issued tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by
	// any additional accepted audiences. Keep this set small in production.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
	// PermissionsClaim names the claim carrying the permission set. It may
	// be a JSON array of strings or a space-delimited string. Defaults to
	// "permissions"; the standard "scope" claim is consulted as a fallback.
	PermissionsClaim string
	// UsernameClaim names the claim carrying a human-readable username.
	// Defaults to "preferred_username" with "sub" as fallback.
	UsernameClaim string
}

func (c *Config) applyDefaults() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
	if c.PermissionsClaim == "" {
		c.PermissionsClaim = "permissions"
	}
	if c.UsernameClaim == "" {
		c.UsernameClaim = "preferred_username"
	}
}

// Authenticator validates tokens against a JWKS key set.
type Authenticator struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

// NewStatic constructs an Authenticator from an explicit JWKS URI (no
// discovery). JWKS keys are auto-refreshed.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	cfg.applyDefaults()

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &Authenticator{cfg: cfg, keyfunc: guardAlgs(cfg.AllowedAlgs, kf.Keyfunc)}, nil
}

// NewFromDiscovery performs OIDC discovery against cfg.Issuer to locate the
// jwks_uri, then constructs an Authenticator with the same validation
// policy as NewStatic.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	cfg.applyDefaults()

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &Authenticator{cfg: cfg, keyfunc: guardAlgs(cfg.AllowedAlgs, kf.Keyfunc)}, nil
}

func guardAlgs(allowed []string, inner jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range allowed {
			if alg == a {
				return inner(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, a.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", auth.ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", auth.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", auth.ErrInvalidToken)
	}
	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", auth.ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", auth.ErrInvalidToken)
	}

	username, _ := claims[a.cfg.UsernameClaim].(string)
	if username == "" {
		username = sub
	}
	sid, _ := claims["sid"].(string)

	return &auth.Identity{
		UserID:      sub,
		Username:    username,
		SessionID:   sid,
		Permissions: permissionsFromClaims(claims, a.cfg.PermissionsClaim),
	}, nil
}

// CheckPermissions implements auth.Gate. External identities have no local
// revocation store, so the check is a pure set check on the token's claims.
func (a *Authenticator) CheckPermissions(ctx context.Context, identity *auth.Identity, required []string) error {
	return auth.RequireAll(identity, required)
}

func permissionsFromClaims(claims jwt.MapClaims, claim string) []string {
	switch v := claims[claim].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		return strings.Fields(v)
	}
	if scope, ok := claims["scope"].(string); ok {
		return strings.Fields(scope)
	}
	return nil
}

func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}

var _ auth.Gate = (*Authenticator)(nil)
