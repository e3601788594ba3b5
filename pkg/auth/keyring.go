// Package auth verifies the HS256 access tokens the identity service issues
// to shoppers and admins. Minting exists for tests and local tooling.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// clockSkew tolerated on exp and iat between the issuer and this service.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Keyring holds the shared secret and the parser built from it.
type Keyring struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewKeyring(cfg config.JWTConfig) (*Keyring, error) {
	secret := strings.TrimSpace(cfg.Secret)
	issuer := strings.TrimSpace(cfg.Issuer)
	switch {
	case secret == "":
		return nil, errors.New("jwt secret is required")
	case issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	return &Keyring{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Mint signs a token valid from now for the configured lifetime.
func (k *Keyring) Mint(now time.Time, p AccessTokenPayload) (string, error) {
	if p.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !p.Role.IsValid() {
		return "", fmt.Errorf("invalid user role %q", p.Role)
	}
	jti := strings.TrimSpace(p.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	token := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		UserID: p.UserID,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.ttl)),
			ID:        jti,
		},
	})
	signed, err := token.SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the typed claims.
func (k *Keyring) Verify(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if _, err := k.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return k.secret, nil
	}); err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("token has no user id")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid user role %q", claims.Role)
	}
	return claims, nil
}
