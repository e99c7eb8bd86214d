package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionJWTLifetime is the lifetime the auth provider gives session
// JWTs. It is used when a token carries no iat/exp pair.
const DefaultSessionJWTLifetime = 5 * time.Minute

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// Claims are the session JWT claims the SDK looks at. Everything else the
// provider puts in the token is ignored.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, matches the session object's id
	SID string `json:"sid,omitempty"`

	// Organization ID, only present on member session JWTs
	OrgID string `json:"org_id,omitempty"`

	// Authentication Methods Reference ["email","otp"]
	AMR []string `json:"amr,omitempty"`
}

// NewSessionClaims builds claims shaped like the provider's. Handy for fakes
// and tests.
func NewSessionClaims(subject, sid string, ttl time.Duration, issuer string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SID: sid,
	}
}

// Lifetime returns exp minus iat. Tokens without both fall back to
// DefaultSessionJWTLifetime.
func (c *Claims) Lifetime() time.Duration {
	if c.ExpiresAt == nil || c.IssuedAt == nil {
		return DefaultSessionJWTLifetime
	}
	d := c.ExpiresAt.Sub(c.IssuedAt.Time)
	if d <= 0 {
		return DefaultSessionJWTLifetime
	}
	return d
}

// Remaining returns how long the token stays valid after now. It is zero
// or negative for an expired token.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
