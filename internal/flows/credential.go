package flows

import "context"

// CredentialEvents carries host-level audit action names for credential
// lifecycle operations.
type CredentialEvents struct {
	PasswordChanged string
	PasswordDenied  string
	Invalidated     string
	Deactivated     string
	Reactivated     string
}

// CredentialMetrics carries host metric IDs for credential lifecycle
// operations.
type CredentialMetrics struct {
	PasswordChanged int
	Invalidated     int
}

// CredentialErrors carries host sentinel errors used by credential flows.
type CredentialErrors struct {
	EngineNotReady     error
	IdentityNotFound   error
	InvalidCredentials error
}

// CredentialDeps captures credential lifecycle dependencies.
type CredentialDeps struct {
	GetIdentity         func(ctx context.Context, identityID string) (IdentityRecord, bool, error)
	VerifyPassword      func(password, hash string) (bool, error)
	CheckPasswordPolicy func(string) error
	HashPassword        func(string) (string, error)

	// UpdateCredential stores the new hash and returns the bumped version.
	UpdateCredential func(ctx context.Context, identityID, newHash string) (uint32, error)
	// BumpVersion increments the credential version without a hash change.
	BumpVersion func(ctx context.Context, identityID string) (uint32, error)
	SetActive   func(ctx context.Context, identityID string, active bool) error

	RevokeAllSessions       func(ctx context.Context, identityID string) (int, error)
	InvalidateIdentityCache func(identityID string)

	MetricInc MetricFn
	EmitAudit AuditFn
	Metrics   CredentialMetrics
	Events    CredentialEvents
	Errors    CredentialErrors
}

func (d *CredentialDeps) normalize() {
	if d.MetricInc == nil {
		d.MetricInc = noMetric
	}
	if d.EmitAudit == nil {
		d.EmitAudit = noAudit
	}
}

// RunChangePassword verifies the old password, stores the new hash, and
// bumps the credential version so every outstanding token goes stale at
// once. Outstanding session rows are left to die on their next refresh.
func RunChangePassword(ctx context.Context, identityID, oldPassword, newPassword string, deps CredentialDeps) error {
	deps.normalize()
	if deps.GetIdentity == nil || deps.VerifyPassword == nil ||
		deps.HashPassword == nil || deps.UpdateCredential == nil {
		return deps.Errors.EngineNotReady
	}

	identity, found, err := deps.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !found {
		return deps.Errors.IdentityNotFound
	}

	ok, err := deps.VerifyPassword(oldPassword, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		deps.EmitAudit(ctx, deps.Events.PasswordDenied, false, identityID, "", deps.Errors.InvalidCredentials, nil)
		return deps.Errors.InvalidCredentials
	}

	if deps.CheckPasswordPolicy != nil {
		if err := deps.CheckPasswordPolicy(newPassword); err != nil {
			return err
		}
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if _, err := deps.UpdateCredential(ctx, identityID, hash); err != nil {
		return err
	}
	if deps.InvalidateIdentityCache != nil {
		deps.InvalidateIdentityCache(identityID)
	}

	deps.MetricInc(deps.Metrics.PasswordChanged)
	deps.EmitAudit(ctx, deps.Events.PasswordChanged, true, identityID, "", nil, nil)
	return nil
}

// RunInvalidateAllTokens bumps the credential version without changing the
// password, instantly rejecting every outstanding token for the identity.
func RunInvalidateAllTokens(ctx context.Context, identityID string, deps CredentialDeps) error {
	deps.normalize()
	if deps.BumpVersion == nil {
		return deps.Errors.EngineNotReady
	}

	if _, err := deps.BumpVersion(ctx, identityID); err != nil {
		return err
	}
	if deps.InvalidateIdentityCache != nil {
		deps.InvalidateIdentityCache(identityID)
	}

	deps.MetricInc(deps.Metrics.Invalidated)
	deps.EmitAudit(ctx, deps.Events.Invalidated, true, identityID, "", nil, nil)
	return nil
}

// RunSetActive flips the active flag. Deactivation also revokes all
// sessions and sweeps the cache; reactivation touches nothing else.
func RunSetActive(ctx context.Context, identityID string, active bool, deps CredentialDeps) error {
	deps.normalize()
	if deps.SetActive == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.SetActive(ctx, identityID, active); err != nil {
		return err
	}

	event := deps.Events.Reactivated
	if !active {
		event = deps.Events.Deactivated
		if deps.RevokeAllSessions != nil {
			if _, err := deps.RevokeAllSessions(ctx, identityID); err != nil {
				return err
			}
		}
		if deps.InvalidateIdentityCache != nil {
			deps.InvalidateIdentityCache(identityID)
		}
	}

	deps.EmitAudit(ctx, event, true, identityID, "", nil, nil)
	return nil
}
