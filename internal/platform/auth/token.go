// Package auth issues and verifies the bearer tokens used by both the REST
// API and the WebSocket handshake, and provides the echo middleware that
// enforces them. Two token sources are supported: locally issued HS256 tokens
// (AUTH_MODE=local) and RS256 tokens from an external OIDC provider verified
// against its JWKS (AUTH_MODE=oidc). In oidc mode local tokens remain valid so
// password accounts and external accounts coexist.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LocalIssuer is the iss claim on tokens minted by this service.
const LocalIssuer = "radshare"

// Claims carried by every accepted token. Subject is the user ID (local
// tokens) or the external subject (oidc tokens, resolved to a local user via
// the sync flow).
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	Email    string `json:"email"`
	Provider string `json:"provider,omitempty"`
	// Standard OIDC profile claims, present on external tokens only.
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Issuer mints local HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer signing with secret; tokens expire after ttl.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl}
}

// IssueToken signs a token for the given user.
func (i *Issuer) IssueToken(userID uuid.UUID, role, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    LocalIssuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role:     role,
		Email:    email,
		Provider: "local",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verifier validates bearer tokens from either source.
type Verifier struct {
	secret   []byte
	issuer   string // external issuer; empty in local-only mode
	audience string
	jwks     *JWKSCache
}

// NewLocalVerifier accepts only HS256 tokens signed with secret.
func NewLocalVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// NewOIDCVerifier accepts RS256 tokens from the external issuer (verified
// against its JWKS) and, when secret is non-empty, locally issued HS256 tokens
// as well. An empty jwksURL is resolved via OIDC discovery on the issuer.
func NewOIDCVerifier(issuer, audience, jwksURL string, secret []byte) (*Verifier, error) {
	if jwksURL == "" {
		provider, err := NewOIDCProvider(issuer)
		if err != nil {
			return nil, fmt.Errorf("discover jwks url: %w", err)
		}
		jwksURL = provider.JWKSURI
	}
	return &Verifier{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		jwks:     NewJWKSCache(jwksURL, defaultJWKSCacheTTL),
	}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("HS256 tokens not accepted")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.jwks == nil {
			return nil, fmt.Errorf("RS256 tokens not accepted")
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.jwks.GetKey(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}

// Verify parses and validates a bearer token string and returns its claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	// Issuer is checked here rather than via parser options because local and
	// external tokens carry different issuers.
	switch claims.Issuer {
	case LocalIssuer:
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
		}
	case v.issuer:
		if v.issuer == "" {
			return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
		}
		if v.audience != "" {
			if err := v.checkAudience(claims); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}

	return claims, nil
}

func (v *Verifier) checkAudience(claims *Claims) error {
	for _, aud := range claims.Audience {
		if aud == v.audience {
			return nil
		}
	}
	return fmt.Errorf("token audience does not include %q", v.audience)
}
