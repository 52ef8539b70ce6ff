package flows

import (
	"context"
	"errors"
	"time"

	"github.com/nebulock/authgate/session"
)

// RefreshClaims is the parsed, type-checked refresh token payload.
type RefreshClaims struct {
	IdentityID        string
	SessionID         string
	CredentialVersion uint32
}

// RefreshEvents carries host-level audit action names for refresh.
type RefreshEvents struct {
	Success string
	Reuse   string
	Failure string
}

// RefreshMetrics carries host metric IDs for refresh.
type RefreshMetrics struct {
	Rotated         int
	ReuseDetected   int
	Failure         int
	StaleCredential int
}

// RefreshErrors carries host sentinel errors used by the refresh flow.
type RefreshErrors struct {
	EngineNotReady  error
	SessionNotFound error
	RefreshReuse    error
	StaleCredential error
	AccountInactive error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now func() time.Time

	ParseRefresh func(string) (RefreshClaims, error)
	NewTokenID   func() (string, error)
	HashToken    func(string) string
	IssueAccess  func(identityID, sessionID string, credentialVersion uint32, jti string, now time.Time) (string, error)
	IssueRefresh func(identityID, sessionID string, credentialVersion uint32, jti string, now time.Time) (string, error)

	// Rotate swaps the session's refresh hash iff providedHash is current.
	Rotate            func(ctx context.Context, sessionID, providedHash, nextHash string) (*session.Session, error)
	RevokeSession     func(ctx context.Context, sessionID string) error
	RevokeAllSessions func(ctx context.Context, identityID string) (int, error)

	GetIdentity             func(ctx context.Context, identityID string) (IdentityRecord, bool, error)
	InvalidateIdentityCache func(identityID string)

	MetricInc MetricFn
	EmitAudit AuditFn
	Warn      func(string, ...any)
	Metrics   RefreshMetrics
	Events    RefreshEvents
	Errors    RefreshErrors
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	IdentityID   string
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// RunRefresh rotates a refresh token. Presenting a hash that is no longer
// the session's current one means the token was already spent: that is
// treated as theft evidence and every session of the identity is revoked
// before the error is returned. Concurrent refreshes with the same token
// yield exactly one winner; the registry's compare-and-swap decides.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (*RefreshResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.ParseRefresh == nil || deps.Rotate == nil || deps.GetIdentity == nil ||
		deps.IssueAccess == nil || deps.IssueRefresh == nil {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		return nil, err
	}

	now := deps.Now()

	refreshJTI, err := deps.NewTokenID()
	if err != nil {
		return nil, err
	}
	// The next refresh token must exist before rotation so its hash can be
	// installed atomically with the old one's retirement. Its claims carry
	// the version the caller presented; a version mismatch below discards
	// the session along with this token.
	nextRefresh, err := deps.IssueRefresh(claims.IdentityID, claims.SessionID, claims.CredentialVersion, refreshJTI, now)
	if err != nil {
		return nil, err
	}

	sess, err := deps.Rotate(ctx, claims.SessionID, deps.HashToken(refreshToken), deps.HashToken(nextRefresh))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshMismatch):
			deps.MetricInc(deps.Metrics.ReuseDetected)
			if deps.RevokeAllSessions != nil {
				if _, revErr := deps.RevokeAllSessions(ctx, claims.IdentityID); revErr != nil {
					deps.Warn("authgate: revoke-all after refresh reuse failed", "identity_id", claims.IdentityID)
				}
			}
			if deps.InvalidateIdentityCache != nil {
				deps.InvalidateIdentityCache(claims.IdentityID)
			}
			deps.EmitAudit(ctx, deps.Events.Reuse, false, claims.IdentityID, claims.SessionID, deps.Errors.RefreshReuse, func() map[string]string {
				return map[string]string{"response": "revoked_all_sessions"}
			})
			return nil, deps.Errors.RefreshReuse
		case errors.Is(err, session.ErrNotFound):
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Failure, false, claims.IdentityID, claims.SessionID, deps.Errors.SessionNotFound, nil)
			return nil, deps.Errors.SessionNotFound
		default:
			deps.MetricInc(deps.Metrics.Failure)
			return nil, err
		}
	}

	identity, found, err := deps.GetIdentity(ctx, claims.IdentityID)
	if err != nil {
		return nil, err
	}
	if !found || !identity.Active {
		if deps.RevokeSession != nil {
			_ = deps.RevokeSession(ctx, sess.ID)
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, claims.IdentityID, sess.ID, deps.Errors.AccountInactive, func() map[string]string {
			return map[string]string{"reason": "inactive"}
		})
		return nil, deps.Errors.AccountInactive
	}

	if identity.CredentialVersion != claims.CredentialVersion {
		if deps.RevokeSession != nil {
			_ = deps.RevokeSession(ctx, sess.ID)
		}
		if deps.InvalidateIdentityCache != nil {
			deps.InvalidateIdentityCache(claims.IdentityID)
		}
		deps.MetricInc(deps.Metrics.StaleCredential)
		deps.EmitAudit(ctx, deps.Events.Failure, false, identity.ID, sess.ID, deps.Errors.StaleCredential, func() map[string]string {
			return map[string]string{"reason": "credential_version"}
		})
		return nil, deps.Errors.StaleCredential
	}

	accessJTI, err := deps.NewTokenID()
	if err != nil {
		return nil, err
	}
	access, err := deps.IssueAccess(identity.ID, sess.ID, identity.CredentialVersion, accessJTI, now)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.Rotated)
	deps.EmitAudit(ctx, deps.Events.Success, true, identity.ID, sess.ID, nil, nil)

	return &RefreshResult{
		IdentityID:   identity.ID,
		SessionID:    sess.ID,
		AccessToken:  access,
		RefreshToken: nextRefresh,
	}, nil
}
