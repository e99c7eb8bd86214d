package jwtx

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParseUnverified decodes a JWT's claims without checking its signature.
//
// The client never holds the provider's signing keys, and a session JWT is
// only ever inspected to schedule its own refresh. Never use the result to
// make an authorization decision.
func ParseUnverified(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidClaim)
	}
	return claims, nil
}

// Lifetime parses token and returns its lifetime. See Claims.Lifetime.
func Lifetime(token string) (time.Duration, error) {
	claims, err := ParseUnverified(token)
	if err != nil {
		return 0, err
	}
	return claims.Lifetime(), nil
}
