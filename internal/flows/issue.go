package flows

import (
	"context"
	"time"

	"github.com/nebulock/authgate/session"
)

// IssueDeps captures everything needed to mint a token pair and persist the
// owning session row.
type IssueDeps struct {
	Now                  func() time.Time
	NewSessionID         func() (string, error)
	NewTokenID           func() (string, error)
	HashToken            func(string) string
	HashFingerprint      func(string) string
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	IssueAccess  func(identityID, sessionID string, credentialVersion uint32, jti string, now time.Time) (string, error)
	IssueRefresh func(identityID, sessionID string, credentialVersion uint32, jti string, now time.Time) (string, error)
	SessionTTL   func() time.Duration
	SaveSession  func(context.Context, *session.Session) error
}

// RunIssueSession mints an access/refresh pair for the identity and persists
// a session row keyed on the refresh token hash. The row is written last so
// a storage failure never leaves a live refresh token without a session.
func RunIssueSession(ctx context.Context, identity IdentityRecord, deps IssueDeps) (*SessionGrant, error) {
	now := deps.Now()

	sessionID, err := deps.NewSessionID()
	if err != nil {
		return nil, err
	}
	accessJTI, err := deps.NewTokenID()
	if err != nil {
		return nil, err
	}
	refreshJTI, err := deps.NewTokenID()
	if err != nil {
		return nil, err
	}

	access, err := deps.IssueAccess(identity.ID, sessionID, identity.CredentialVersion, accessJTI, now)
	if err != nil {
		return nil, err
	}
	refresh, err := deps.IssueRefresh(identity.ID, sessionID, identity.CredentialVersion, refreshJTI, now)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		ID:            sessionID,
		IdentityID:    identity.ID,
		RefreshHash:   deps.HashToken(refresh),
		IPHash:        deps.HashFingerprint(deps.ClientIPFromContext(ctx)),
		UserAgentHash: deps.HashFingerprint(deps.UserAgentFromContext(ctx)),
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Add(deps.SessionTTL()).Unix(),
	}
	if err := deps.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	return &SessionGrant{
		Session:      sess,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}
