package authgate

import "errors"

// Domain errors returned by the engine. Callers classify with errors.Is and
// map them to user-facing responses; none of them are retryable.
var (
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an identity's lockout window is
	// still open. It never carries the unlock time.
	ErrAccountLocked = errors.New("account locked")
	// ErrDuplicateIdentity is returned by Register when the identifier is
	// already taken.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrAccountInactive is returned for deactivated identities.
	ErrAccountInactive = errors.New("account inactive")

	// ErrTokenExpired means the token verified but its expiry has passed.
	// Callers holding a refresh token should attempt Refresh.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignature means the signature did not verify.
	ErrTokenSignature = errors.New("invalid token signature")
	// ErrTokenMalformed means the token could not be decoded at all.
	ErrTokenMalformed = errors.New("malformed token")

	// ErrSessionNotFound is returned when a token references a session that
	// no longer exists or was revoked.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshReuse signals presentation of an already-rotated refresh
	// token. By the time it is returned, every session of the identity has
	// been revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrStaleCredential is returned when a token's embedded credential
	// version no longer matches the identity's current version.
	ErrStaleCredential = errors.New("credential version mismatch")
	// ErrDeviceMismatch is returned when device binding is enforced and the
	// request fingerprint does not match the session's.
	ErrDeviceMismatch = errors.New("device binding rejected")

	// ErrUnauthenticated is returned for absent or unusable bearer tokens.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrPasswordPolicy is returned when a new password fails the minimum
	// length check.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrEngineNotReady is returned when the engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrIdentityNotFound is returned (or wrapped) by IdentityStore
// implementations for missing rows. The engine maps it to
// ErrInvalidCredentials on the login path so lookups stay unenumerable.
var ErrIdentityNotFound = errors.New("identity not found")

// Infrastructure errors. Safe for callers to retry with backoff.
var (
	// ErrServiceUnavailable wraps identity-store and session-registry
	// failures, including caller-deadline timeouts. The engine fails closed.
	ErrServiceUnavailable = errors.New("auth backend unavailable")
)
