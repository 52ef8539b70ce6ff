package flows

import (
	"context"
	"errors"
	"strconv"

	"github.com/nebulock/authgate/session"
)

// LogoutEvents carries host-level audit action names for logout flows.
type LogoutEvents struct {
	Logout    string
	LogoutAll string
}

// LogoutMetrics carries host metric IDs for logout flows.
type LogoutMetrics struct {
	SessionRevoked int
	LogoutAll      int
}

// LogoutErrors carries host sentinel errors used by logout flows.
type LogoutErrors struct {
	EngineNotReady  error
	SessionNotFound error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	GetSession        func(ctx context.Context, sessionID string) (*session.Session, error)
	RevokeSession     func(ctx context.Context, sessionID string) error
	RevokeAllSessions func(ctx context.Context, identityID string) (int, error)

	// InvalidateSessionCache drops cached verification entries that resolve
	// to the session; InvalidateIdentityCache drops all of an identity's.
	InvalidateSessionCache  func(identityID, sessionID string)
	InvalidateIdentityCache func(identityID string)

	MetricInc MetricFn
	EmitAudit AuditFn
	Metrics   LogoutMetrics
	Events    LogoutEvents
	Errors    LogoutErrors
}

// RunLogout revokes one session and drops its cached verifications. Revoking
// an already-revoked session reports SessionNotFound; the registry itself
// stays idempotent.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.GetSession == nil || deps.RevokeSession == nil {
		return deps.Errors.EngineNotReady
	}

	sess, err := deps.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return deps.Errors.SessionNotFound
		}
		return err
	}

	if err := deps.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	if deps.InvalidateSessionCache != nil {
		deps.InvalidateSessionCache(sess.IdentityID, sessionID)
	}

	deps.MetricInc(deps.Metrics.SessionRevoked)
	deps.EmitAudit(ctx, deps.Events.Logout, true, sess.IdentityID, sessionID, nil, nil)
	return nil
}

// RunLogoutAll revokes every session of an identity and sweeps its cached
// verifications. Succeeds when the identity has no sessions.
func RunLogoutAll(ctx context.Context, identityID string, deps LogoutDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.RevokeAllSessions == nil {
		return deps.Errors.EngineNotReady
	}

	revoked, err := deps.RevokeAllSessions(ctx, identityID)
	if err != nil {
		return err
	}
	if deps.InvalidateIdentityCache != nil {
		deps.InvalidateIdentityCache(identityID)
	}

	for i := 0; i < revoked; i++ {
		deps.MetricInc(deps.Metrics.SessionRevoked)
	}
	deps.MetricInc(deps.Metrics.LogoutAll)
	deps.EmitAudit(ctx, deps.Events.LogoutAll, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	return nil
}
