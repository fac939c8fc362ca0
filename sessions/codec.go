package sessions

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wirehub/wirehub/auth"
)

// Token use markers. Validate accepts only session tokens; Redeem accepts
// only refresh tokens.
const (
	tokenUseSession = "session"
	tokenUseRefresh = "refresh"
)

// Claims is the signed payload of a wirehub token.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenUse    string   `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies bearer tokens. Verify authenticates the
// signature and the token's time bounds; callers map the claims onto the
// session store state.
type TokenCodec interface {
	Sign(claims *Claims) (string, error)
	// Verify returns auth.ErrExpiredToken for tokens past exp and
	// auth.ErrInvalidToken for every other failure.
	Verify(token string) (*Claims, error)
}

// NewCodec selects a codec for the configured algorithm. keys supplies the
// signing key material at use time, so rotated keys take effect without
// rebuilding the codec.
func NewCodec(algorithm, issuer string, keys KeySource) (TokenCodec, error) {
	switch algorithm {
	case "", "HS256":
		return &hmacCodec{method: jwt.SigningMethodHS256, issuer: issuer, keys: keys}, nil
	case "HS384":
		return &hmacCodec{method: jwt.SigningMethodHS384, issuer: issuer, keys: keys}, nil
	case "HS512":
		return &hmacCodec{method: jwt.SigningMethodHS512, issuer: issuer, keys: keys}, nil
	case "EdDSA":
		return &eddsaCodec{issuer: issuer, keys: keys}, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %q", algorithm)
	}
}

// hmacCodec signs tokens as HMAC JWTs.
type hmacCodec struct {
	method *jwt.SigningMethodHMAC
	issuer string
	keys   KeySource
}

func (c *hmacCodec) Sign(claims *Claims) (string, error) {
	key, err := c.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("signing key unavailable: %w", err)
	}
	tok := jwt.NewWithClaims(c.method, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (c *hmacCodec) Verify(token string) (*Claims, error) {
	key, err := c.keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("signing key unavailable: %w", err)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
	)
	var claims Claims
	_, err = parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", auth.ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	return &claims, nil
}

// eddsaCodec signs tokens as Ed25519 compact JWS. The key material is the
// 32-byte Ed25519 seed.
type eddsaCodec struct {
	issuer string
	keys   KeySource
}

func (c *eddsaCodec) keyPair() (ed25519.PrivateKey, error) {
	seed, err := c.keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("signing key unavailable: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("EdDSA key material must be a %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (c *eddsaCodec) Sign(claims *Claims) (string, error) {
	priv, err := c.keyPair()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	opts := (&jose.SignerOptions{}).WithType("JWT")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize jws: %w", err)
	}
	return compact, nil
}

func (c *eddsaCodec) Verify(token string) (*Claims, error) {
	priv, err := c.keyPair()
	if err != nil {
		return nil, err
	}
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse jws: %v", auth.ErrInvalidToken, err)
	}
	payload, err := jws.Verify(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: signature verification failed: %v", auth.ErrInvalidToken, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims: %v", auth.ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", auth.ErrInvalidToken)
	}
	now := time.Now()
	if now.After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: token is expired", auth.ErrExpiredToken)
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", auth.ErrInvalidToken)
	}
	return &claims, nil
}
