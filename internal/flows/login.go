package flows

import (
	"context"
	"time"
)

// LoginEvents carries host-level audit action names for login.
type LoginEvents struct {
	Success string
	Failure string
	Locked  string
}

// LoginMetrics carries host metric IDs for login.
type LoginMetrics struct {
	Success        int
	Failure        int
	Lockout        int
	SessionCreated int
}

// LoginErrors carries host sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountLocked      error
	AccountInactive    error
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Now func() time.Time

	GetIdentityByIdentifier func(ctx context.Context, identifier string) (IdentityRecord, bool, error)
	VerifyPassword          func(password, hash string) (bool, error)
	PasswordNeedsUpgrade    func(hash string) bool
	HashPassword            func(string) (string, error)
	RehashCredential        func(ctx context.Context, identityID, newHash string) error

	// RecordFailure applies one failed attempt atomically and reports the
	// resulting state and whether the identity is locked afterwards.
	RecordFailure func(ctx context.Context, identityID string) (LockoutSnapshot, bool, error)
	// ClearLockout zeroes the counter and lock after a successful login.
	ClearLockout func(ctx context.Context, identityID string) error

	IssueSession func(ctx context.Context, identity IdentityRecord) (*SessionGrant, error)

	MetricInc MetricFn
	EmitAudit AuditFn
	Warn      func(string, ...any)
	Metrics   LoginMetrics
	Events    LoginEvents
	Errors    LoginErrors
}

// LoginResult carries the authenticated identity and its session tokens.
type LoginResult struct {
	Identity IdentityRecord
	Grant    *SessionGrant
}

// RunLogin executes the login flow. Unknown identifiers and wrong passwords
// fail the same way so callers cannot enumerate accounts. A lock that is
// still open short-circuits before password verification and never touches
// the attempt counter.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) (*LoginResult, error) {
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
	if deps.GetIdentityByIdentifier == nil ||
		deps.VerifyPassword == nil ||
		deps.RecordFailure == nil ||
		deps.ClearLockout == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	now := deps.Now()

	identity, found, err := deps.GetIdentityByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !found {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": identifier, "reason": "unknown_identifier"}
		})
		return nil, deps.Errors.InvalidCredentials
	}

	if !identity.LockedUntil.IsZero() && now.Before(identity.LockedUntil) {
		deps.MetricInc(deps.Metrics.Lockout)
		deps.EmitAudit(ctx, deps.Events.Locked, false, identity.ID, "", deps.Errors.AccountLocked, nil)
		return nil, deps.Errors.AccountLocked
	}

	ok, err := deps.VerifyPassword(password, identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		_, locked, recErr := deps.RecordFailure(ctx, identity.ID)
		if recErr != nil {
			return nil, recErr
		}
		if locked {
			deps.MetricInc(deps.Metrics.Lockout)
			deps.EmitAudit(ctx, deps.Events.Locked, false, identity.ID, "", deps.Errors.AccountLocked, func() map[string]string {
				return map[string]string{"reason": "threshold_reached"}
			})
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, identity.ID, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "password_mismatch"}
		})
		return nil, deps.Errors.InvalidCredentials
	}

	if !identity.Active {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, identity.ID, "", deps.Errors.AccountInactive, func() map[string]string {
			return map[string]string{"reason": "inactive"}
		})
		return nil, deps.Errors.AccountInactive
	}

	if deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.RehashCredential != nil {
		if deps.PasswordNeedsUpgrade(identity.PasswordHash) {
			if upgraded, hashErr := deps.HashPassword(password); hashErr == nil {
				if upErr := deps.RehashCredential(ctx, identity.ID, upgraded); upErr != nil {
					deps.Warn("authgate: password hash upgrade failed", "identity_id", identity.ID)
				} else {
					identity.PasswordHash = upgraded
				}
			}
		}
	}

	if identity.FailedAttempts > 0 || !identity.LockedUntil.IsZero() {
		if err := deps.ClearLockout(ctx, identity.ID); err != nil {
			return nil, err
		}
	}

	grant, err := deps.IssueSession(ctx, identity)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.Success, true, identity.ID, grant.Session.ID, nil, nil)

	return &LoginResult{Identity: identity, Grant: grant}, nil
}
