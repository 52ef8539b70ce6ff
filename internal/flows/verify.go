package flows

import (
	"context"
	"errors"
	"time"

	"github.com/nebulock/authgate/session"
)

// AccessClaims is the parsed, type-checked access token payload.
type AccessClaims struct {
	IdentityID        string
	SessionID         string
	CredentialVersion uint32
	ExpiresAt         time.Time
}

// CacheEntry is the flow-local view of a cached verification.
type CacheEntry struct {
	IdentityID        string
	SessionID         string
	CredentialVersion uint32
}

// VerifyEvents carries host-level audit action names for verification.
// Verification is the hot path; only rejections are audited.
type VerifyEvents struct {
	Rejected string
}

// VerifyMetrics carries host metric IDs for verification.
type VerifyMetrics struct {
	CacheHit        int
	CacheMiss       int
	StaleCredential int
	Failure         int
}

// VerifyErrors carries host sentinel errors used by the verify flow.
type VerifyErrors struct {
	EngineNotReady  error
	SessionNotFound error
	StaleCredential error
	AccountInactive error
	DeviceMismatch  error
}

// VerifyDeps captures verify flow dependencies.
type VerifyDeps struct {
	Now func() time.Time

	ParseAccess func(string) (AccessClaims, error)
	CacheKey    func(token string) string
	CacheGet    func(key string) (CacheEntry, bool)
	CachePut    func(key string, entry CacheEntry, ttl time.Duration)
	CacheDrop   func(key string)

	GetSession  func(ctx context.Context, sessionID string) (*session.Session, error)
	GetIdentity func(ctx context.Context, identityID string) (IdentityRecord, bool, error)

	// EnforceBinding, when set, checks the caller's device fingerprint
	// against the session row. Binding needs the row, so setting it
	// disables the cache fast path entirely.
	EnforceBinding func(ctx context.Context, sess *session.Session) error

	InvalidateIdentityCache func(identityID string)

	MetricInc MetricFn
	EmitAudit AuditFn
	Metrics   VerifyMetrics
	Events    VerifyEvents
	Errors    VerifyErrors
}

// VerifyResult is the resolved principal for an accepted access token.
type VerifyResult struct {
	IdentityID string
	SessionID  string
}

// RunVerify resolves an access token to its identity. The fast path is a
// signature check plus one cache lookup; the slow path consults the session
// registry and the identity store, then warms the cache for no longer than
// the token has left to live. Cache entries are advisory: any disagreement
// with the token's own claims drops the entry and takes the slow path.
func RunVerify(ctx context.Context, accessToken string, deps VerifyDeps) (*VerifyResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.ParseAccess == nil || deps.GetSession == nil || deps.GetIdentity == nil {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := deps.ParseAccess(accessToken)
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		return nil, err
	}

	useCache := deps.EnforceBinding == nil && deps.CacheGet != nil

	var key string
	if useCache {
		key = deps.CacheKey(accessToken)
		if entry, ok := deps.CacheGet(key); ok {
			if entry.SessionID == claims.SessionID &&
				entry.IdentityID == claims.IdentityID &&
				entry.CredentialVersion == claims.CredentialVersion {
				deps.MetricInc(deps.Metrics.CacheHit)
				return &VerifyResult{IdentityID: entry.IdentityID, SessionID: entry.SessionID}, nil
			}
			if deps.CacheDrop != nil {
				deps.CacheDrop(key)
			}
		}
		deps.MetricInc(deps.Metrics.CacheMiss)
	}

	sess, err := deps.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Rejected, false, claims.IdentityID, claims.SessionID, deps.Errors.SessionNotFound, nil)
			return nil, deps.Errors.SessionNotFound
		}
		return nil, err
	}
	if sess.IdentityID != claims.IdentityID {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, claims.IdentityID, claims.SessionID, deps.Errors.SessionNotFound, func() map[string]string {
			return map[string]string{"reason": "identity_session_mismatch"}
		})
		return nil, deps.Errors.SessionNotFound
	}

	if deps.EnforceBinding != nil {
		if err := deps.EnforceBinding(ctx, sess); err != nil {
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Rejected, false, claims.IdentityID, sess.ID, err, func() map[string]string {
				return map[string]string{"reason": "device_binding"}
			})
			return nil, err
		}
	}

	identity, found, err := deps.GetIdentity(ctx, claims.IdentityID)
	if err != nil {
		return nil, err
	}
	if !found || !identity.Active {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, claims.IdentityID, sess.ID, deps.Errors.AccountInactive, nil)
		return nil, deps.Errors.AccountInactive
	}

	if identity.CredentialVersion != claims.CredentialVersion {
		if deps.InvalidateIdentityCache != nil {
			deps.InvalidateIdentityCache(claims.IdentityID)
		}
		deps.MetricInc(deps.Metrics.StaleCredential)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, identity.ID, sess.ID, deps.Errors.StaleCredential, func() map[string]string {
			return map[string]string{"reason": "credential_version"}
		})
		return nil, deps.Errors.StaleCredential
	}

	if useCache && deps.CachePut != nil {
		if remaining := claims.ExpiresAt.Sub(deps.Now()); remaining > 0 {
			deps.CachePut(key, CacheEntry{
				IdentityID:        identity.ID,
				SessionID:         sess.ID,
				CredentialVersion: identity.CredentialVersion,
			}, remaining)
		}
	}

	return &VerifyResult{IdentityID: identity.ID, SessionID: sess.ID}, nil
}
