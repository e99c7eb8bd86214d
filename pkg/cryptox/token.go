package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
	// TokenSize512 provides 512 bits of entropy (86 chars base64url).
	TokenSize512 = 64
)

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
// Returns an error if the random number generator fails.
//
// Common sizes:
//   - TokenSize128 (16 bytes): request nonces
//   - TokenSize256 (32 bytes): PKCE verifiers (recommended)
//   - TokenSize512 (64 bytes): high-security secrets
func GenerateToken(size int) (string, error) {
	return GenerateTokenFrom(rand.Reader, size)
}

// GenerateTokenFrom is GenerateToken with an explicit entropy source. Tests
// use it to make verifiers deterministic.
func GenerateTokenFrom(r io.Reader, size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// Stored fingerprints let us compare secrets (e.g. the configured public
// token) across launches without persisting the secret itself.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	return S256([]byte(token))
}

// S256 returns BASE64URL(SHA256(data)) without padding, the transform used
// for PKCE code challenges (RFC 7636 section 4.2).
func S256(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
