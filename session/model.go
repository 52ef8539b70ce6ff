package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// Session is the registry record binding a login event to its rotating
// token pair. Tokens themselves are never stored; the record holds only
// SHA-256 references. Presence in the registry is what makes a session
// active: revocation removes the record and it is never reused.
type Session struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`

	// RefreshHash is the hex SHA-256 of the currently valid refresh token.
	// Exactly one value is valid at a time; rotation swaps it atomically.
	RefreshHash string `json:"refresh_hash"`

	// IPHash and UserAgentHash are the hashed device fingerprint captured
	// at login. Raw values are not persisted.
	IPHash        string `json:"ip_hash,omitempty"`
	UserAgentHash string `json:"ua_hash,omitempty"`

	IssuedAt  int64 `json:"issued_at"`
	ExpiresAt int64 `json:"expires_at"`
}

// NewID returns a random 128-bit session identifier, base64url encoded.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewTokenID returns a random 128-bit token identifier (jti) for refresh
// tokens, base64url encoded.
func NewTokenID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken returns the hex SHA-256 reference under which a bearer token is
// tracked at rest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashFingerprint hashes one device fingerprint component. Empty input maps
// to the empty string so absent components are not confused with hashes of
// the empty string.
func HashFingerprint(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrRefreshMismatch is returned by Rotate when the presented refresh hash
// is not the session's current one: the token was already rotated. Callers
// treat this as theft evidence and revoke the whole identity.
var ErrRefreshMismatch = errors.New("refresh hash mismatch")

// ErrUnavailable wraps Redis transport failures.
var ErrUnavailable = errors.New("session registry unavailable")
