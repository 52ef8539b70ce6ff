package flows

import (
	"context"
	"errors"
)

// RegisterEvents carries host-level audit action names for registration.
type RegisterEvents struct {
	Success   string
	Duplicate string
}

// RegisterMetrics carries host metric IDs for registration.
type RegisterMetrics struct {
	Success   int
	Duplicate int
}

// RegisterErrors carries host sentinel errors used by the register flow.
type RegisterErrors struct {
	EngineNotReady error
	Duplicate      error
	PasswordPolicy error
}

// RegisterDeps captures register flow dependencies.
type RegisterDeps struct {
	CheckPasswordPolicy func(string) error
	HashPassword        func(string) (string, error)
	// CreateIdentity persists a new identity and returns it; it must fail
	// with the host's duplicate sentinel when the identifier is taken.
	CreateIdentity func(ctx context.Context, identifier, passwordHash string) (IdentityRecord, error)
	IssueSession   func(ctx context.Context, identity IdentityRecord) (*SessionGrant, error)

	MetricInc MetricFn
	EmitAudit AuditFn
	Metrics   RegisterMetrics
	Events    RegisterEvents
	Errors    RegisterErrors
}

// RegisterResult carries the created identity and its first session tokens.
type RegisterResult struct {
	Identity IdentityRecord
	Grant    *SessionGrant
}

// RunRegister creates an identity and logs it in. Registration implies a
// successful credential check, so a session is issued immediately.
func RunRegister(ctx context.Context, identifier, password string, deps RegisterDeps) (*RegisterResult, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.HashPassword == nil || deps.CreateIdentity == nil || deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if deps.CheckPasswordPolicy != nil {
		if err := deps.CheckPasswordPolicy(password); err != nil {
			return nil, err
		}
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		return nil, err
	}

	identity, err := deps.CreateIdentity(ctx, identifier, hash)
	if err != nil {
		if deps.Errors.Duplicate != nil && errors.Is(err, deps.Errors.Duplicate) {
			deps.MetricInc(deps.Metrics.Duplicate)
			deps.EmitAudit(ctx, deps.Events.Duplicate, false, "", "", err, func() map[string]string {
				return map[string]string{"identifier": identifier}
			})
		}
		return nil, err
	}

	grant, err := deps.IssueSession(ctx, identity)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, identity.ID, grant.Session.ID, nil, nil)

	return &RegisterResult{Identity: identity, Grant: grant}, nil
}
