package authgate

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/nebulock/authgate/internal/audit"
)

// Identity is the durable account record the engine authenticates against.
// The engine never deletes identities; deactivation clears Active instead.
type Identity struct {
	ID           string
	Identifier   string
	PasswordHash string

	// CredentialVersion increments on every password change or forced
	// global logout. Tokens embed the version they were minted under and
	// are rejected once it moves.
	CredentialVersion uint32

	Active bool

	FailedAttempts int
	LockedUntil    time.Time // zero when not locked

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the identity's lockout window is still open at now.
func (i Identity) Locked(now time.Time) bool {
	return !i.LockedUntil.IsZero() && now.Before(i.LockedUntil)
}

// LockoutState is the slice of an Identity the lockout policy may mutate.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// CreateIdentityInput is the input for IdentityStore.Create.
type CreateIdentityInput struct {
	ID                string
	Identifier        string
	PasswordHash      string
	CredentialVersion uint32
}

// IdentityStore is the durable, transactional store the engine depends on.
// Production deployments back it with a shared database (see store/postgres);
// tests use the in-memory fake (store/memory).
type IdentityStore interface {
	Get(ctx context.Context, id string) (Identity, error)
	GetByIdentifier(ctx context.Context, identifier string) (Identity, error)

	// Create persists a new identity and fails with ErrDuplicateIdentity
	// when the identifier is already taken. The uniqueness check must be
	// transactional against the store, not advisory.
	Create(ctx context.Context, input CreateIdentityInput) (Identity, error)

	// UpdateCredential replaces the password hash and bumps the credential
	// version in one atomic write, returning the new version.
	UpdateCredential(ctx context.Context, id string, newHash string) (uint32, error)

	// RehashCredential replaces the password hash without moving the
	// credential version. Used for transparent Argon2 parameter upgrades
	// at login, which must not invalidate outstanding tokens.
	RehashCredential(ctx context.Context, id string, newHash string) error

	// BumpCredentialVersion advances the version without touching the hash.
	// This is the forced-global-logout path.
	BumpCredentialVersion(ctx context.Context, id string) (uint32, error)

	// ApplyLockout atomically reads the identity's lockout state, applies
	// fn, and writes the result back. Implementations must serialize
	// concurrent calls per identity (row lock or equivalent) so that two
	// racing failures cannot both observe the same counter value.
	ApplyLockout(ctx context.Context, id string, fn func(LockoutState) LockoutState) (LockoutState, error)

	SetActive(ctx context.Context, id string, active bool) error
}

// DeviceInfo is the fingerprint captured at login and bound to the session.
type DeviceInfo struct {
	IP        string
	UserAgent string
}

// TokenPair is an access/refresh pair issued by login, register, and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is returned by Engine.Verify with the resolved principal.
type AuthResult struct {
	IdentityID string
	SessionID  string
}

// RateLimiter is the optional admission pre-check invoked by the caller
// before Login or Register reach the engine. The engine itself performs no
// rate limiting; the interface is declared here so hosts and the engine
// agree on its shape.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// AuditEvent is the structured audit record emitted for every flow outcome.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's async dispatcher.
// Sink failures never block or fail an auth operation.
type AuditSink = internalaudit.Sink

// NoOpSink discards all audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events on a channel for test and pipeline use.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
