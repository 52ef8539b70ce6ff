// Package flows contains the orchestration logic for every auth operation,
// expressed over injected function dependencies so the root engine stays a
// thin wiring layer and the flows stay testable without Redis or a database.
package flows

import (
	"context"
	"time"

	"github.com/nebulock/authgate/session"
)

// IdentityRecord is the flow-local identity model. Flows never import the
// root package; the engine adapts its identity type to this shape.
type IdentityRecord struct {
	ID                string
	Identifier        string
	PasswordHash      string
	CredentialVersion uint32
	Active            bool
	FailedAttempts    int
	LockedUntil       time.Time
}

// LockoutSnapshot is the lockout slice returned after recording an outcome.
type LockoutSnapshot struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// SessionGrant is the product of session issuance: the persisted session row
// plus the freshly minted token pair.
type SessionGrant struct {
	Session      *session.Session
	AccessToken  string
	RefreshToken string
}

// MetricFn increments a host-level counter by ID.
type MetricFn func(int)

// AuditFn emits a host-level audit event. The metadata closure is only
// invoked when auditing is enabled.
type AuditFn func(ctx context.Context, action string, success bool, identityID, sessionID string, err error, meta func() map[string]string)

func noMetric(int) {}

func noAudit(context.Context, string, bool, string, string, error, func() map[string]string) {
}
