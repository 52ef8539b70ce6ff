package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nebulock/authgate/cache"
	internalaudit "github.com/nebulock/authgate/internal/audit"
	"github.com/nebulock/authgate/internal/flows"
	"github.com/nebulock/authgate/internal/lockout"
	"github.com/nebulock/authgate/jwt"
	"github.com/nebulock/authgate/password"
	"github.com/nebulock/authgate/session"
)

// Audit action names emitted by the engine.
const (
	auditRegister           = "register"
	auditRegisterDuplicate  = "register_duplicate"
	auditLogin              = "login"
	auditLoginFailed        = "login_failed"
	auditLoginLocked        = "login_locked"
	auditRefresh            = "refresh"
	auditRefreshReuse       = "refresh_reuse"
	auditRefreshFailed      = "refresh_failed"
	auditLogout             = "logout"
	auditLogoutAll          = "logout_all"
	auditVerifyRejected     = "verify_rejected"
	auditPasswordChanged    = "password_changed"
	auditPasswordDenied     = "password_change_denied"
	auditTokensInvalidated  = "tokens_invalidated"
	auditAccountDeactivated = "account_deactivated"
	auditAccountReactivated = "account_reactivated"
)

// Engine is the auth orchestrator. Build one with Builder; all methods are
// safe for concurrent use.
type Engine struct {
	config      Config
	hasher      *password.Hasher
	tokens      *jwt.Manager
	sessions    *session.Store
	verifyCache *cache.Cache
	identities  IdentityStore
	metrics     *Metrics
	audit       *internalaudit.Dispatcher
	logger      *slog.Logger
	lockout     lockout.Config
	flows       flows.Service
}

// Result is returned by Register, Login, and Refresh.
type Result struct {
	IdentityID string
	SessionID  string
	Tokens     TokenPair
}

func newVerifyCache(cfg CacheConfig) *cache.Cache {
	return cache.New(cfg.TTL, cfg.SweepInterval)
}

// Register creates an identity and logs it in.
func (e *Engine) Register(ctx context.Context, identifier, pw string) (*Result, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.Register(ctx, identifier, pw)
	if err != nil {
		return nil, e.wrapInfra(err)
	}
	return grantResult(res.Identity.ID, res.Grant), nil
}

// Login authenticates an identifier/password pair and issues a session.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*Result, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.Login(ctx, identifier, pw)
	if err != nil {
		return nil, e.wrapInfra(err)
	}
	return grantResult(res.Identity.ID, res.Grant), nil
}

// Refresh rotates a refresh token and returns a new pair. Presenting an
// already-rotated token revokes every session of the identity and returns
// ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, e.wrapInfra(err)
	}
	return &Result{
		IdentityID: res.IdentityID,
		SessionID:  res.SessionID,
		Tokens: TokenPair{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
		},
	}, nil
}

// Logout revokes a single session.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.wrapInfra(e.flows.Logout(ctx, sessionID))
}

// LogoutAll revokes every session of an identity. Outstanding access tokens
// keep their credential version, so pair this with InvalidateAllTokens when
// tokens must die before their natural expiry.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.wrapInfra(e.flows.LogoutAll(ctx, identityID))
}

// Verify resolves an access token to its identity and session. The fast
// path is signature check plus cache hit; misses fall back to the registry
// and identity store.
func (e *Engine) Verify(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	res, err := e.flows.Verify(ctx, accessToken)
	e.metrics.ObserveVerifyLatency(time.Since(start))
	if err != nil {
		return nil, e.wrapInfra(err)
	}
	return &AuthResult{IdentityID: res.IdentityID, SessionID: res.SessionID}, nil
}

// ChangePassword verifies the old password and installs the new one,
// bumping the credential version so all outstanding tokens go stale.
func (e *Engine) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.wrapInfra(e.flows.ChangePassword(ctx, identityID, oldPassword, newPassword))
}

// InvalidateAllTokens bumps the credential version without a password
// change: the forced-global-logout path.
func (e *Engine) InvalidateAllTokens(ctx context.Context, identityID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.wrapInfra(e.flows.InvalidateAllTokens(ctx, identityID))
}

// SetActive flips the identity's active flag. Deactivation revokes all
// sessions.
func (e *Engine) SetActive(ctx context.Context, identityID string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.wrapInfra(e.flows.SetActive(ctx, identityID, active))
}

// Metrics exposes the engine counter set.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot copies the current counter values. Exporters poll this.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Health pings the session registry and reports the round-trip time.
func (e *Engine) Health(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	rtt, err := e.sessions.Ping(ctx)
	if err != nil {
		return 0, e.wrapInfra(err)
	}
	return rtt, nil
}

// Close drains the audit dispatcher and stops the cache sweeper.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	if e.verifyCache != nil {
		e.verifyCache.Close()
	}
}

func grantResult(identityID string, grant *flows.SessionGrant) *Result {
	return &Result{
		IdentityID: identityID,
		SessionID:  grant.Session.ID,
		Tokens: TokenPair{
			AccessToken:  grant.AccessToken,
			RefreshToken: grant.RefreshToken,
		},
	}
}

// wrapInfra passes domain sentinels through untouched and wraps everything
// else as ErrServiceUnavailable: the engine fails closed on infrastructure
// trouble.
func (e *Engine) wrapInfra(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range domainSentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	e.logger.Warn("authgate: backend failure", "error", err)
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

var domainSentinels = []error{
	ErrInvalidCredentials,
	ErrAccountLocked,
	ErrDuplicateIdentity,
	ErrAccountInactive,
	ErrTokenExpired,
	ErrTokenSignature,
	ErrTokenMalformed,
	ErrSessionNotFound,
	ErrRefreshReuse,
	ErrStaleCredential,
	ErrDeviceMismatch,
	ErrUnauthenticated,
	ErrPasswordPolicy,
	ErrEngineNotReady,
	ErrIdentityNotFound,
}

func (e *Engine) emitAudit(ctx context.Context, action string, success bool, identityID, sessionID string, opErr error, meta func() map[string]string) {
	if e.audit == nil {
		return
	}
	event := internalaudit.Event{
		Timestamp:  time.Now(),
		Action:     action,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if meta != nil {
		event.Metadata = meta()
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	if len(pw) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}
	return nil
}

func toRecord(identity Identity) flows.IdentityRecord {
	return flows.IdentityRecord{
		ID:                identity.ID,
		Identifier:        identity.Identifier,
		PasswordHash:      identity.PasswordHash,
		CredentialVersion: identity.CredentialVersion,
		Active:            identity.Active,
		FailedAttempts:    identity.FailedAttempts,
		LockedUntil:       identity.LockedUntil,
	}
}

// mapTokenErr converts token-issuer sentinels to engine sentinels.
func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrSignature):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}

func (e *Engine) buildFlows() flows.Service {
	metricInc := func(id int) { e.metrics.Inc(MetricID(id)) }
	warn := func(msg string, args ...any) { e.logger.Warn(msg, args...) }

	getIdentity := func(ctx context.Context, id string) (flows.IdentityRecord, bool, error) {
		identity, err := e.identities.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				return flows.IdentityRecord{}, false, nil
			}
			return flows.IdentityRecord{}, false, err
		}
		return toRecord(identity), true, nil
	}

	issue := flows.IssueDeps{
		Now:                  time.Now,
		NewSessionID:         session.NewID,
		NewTokenID:           session.NewTokenID,
		HashToken:            session.HashToken,
		HashFingerprint:      session.HashFingerprint,
		ClientIPFromContext:  clientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		IssueAccess: func(identityID, sessionID string, cv uint32, jti string, now time.Time) (string, error) {
			return e.tokens.Issue(identityID, sessionID, cv, jwt.TypeAccess, jti, now)
		},
		IssueRefresh: func(identityID, sessionID string, cv uint32, jti string, now time.Time) (string, error) {
			return e.tokens.Issue(identityID, sessionID, cv, jwt.TypeRefresh, jti, now)
		},
		SessionTTL: e.tokens.RefreshTTL,
		SaveSession: func(ctx context.Context, sess *session.Session) error {
			return e.sessions.Save(ctx, sess, e.tokens.RefreshTTL())
		},
	}

	issueSession := func(ctx context.Context, identity flows.IdentityRecord) (*flows.SessionGrant, error) {
		return flows.RunIssueSession(ctx, identity, issue)
	}

	register := flows.RegisterDeps{
		CheckPasswordPolicy: e.checkPasswordPolicy,
		HashPassword:        e.hasher.Hash,
		CreateIdentity: func(ctx context.Context, identifier, hash string) (flows.IdentityRecord, error) {
			identity, err := e.identities.Create(ctx, CreateIdentityInput{
				ID:                uuid.NewString(),
				Identifier:        identifier,
				PasswordHash:      hash,
				CredentialVersion: 1,
			})
			if err != nil {
				return flows.IdentityRecord{}, err
			}
			return toRecord(identity), nil
		},
		IssueSession: issueSession,
		MetricInc:    metricInc,
		EmitAudit:    e.emitAudit,
		Metrics: flows.RegisterMetrics{
			Success:   int(MetricRegisterSuccess),
			Duplicate: int(MetricRegisterDuplicate),
		},
		Events: flows.RegisterEvents{
			Success:   auditRegister,
			Duplicate: auditRegisterDuplicate,
		},
		Errors: flows.RegisterErrors{
			EngineNotReady: ErrEngineNotReady,
			Duplicate:      ErrDuplicateIdentity,
			PasswordPolicy: ErrPasswordPolicy,
		},
	}

	login := flows.LoginDeps{
		Now: time.Now,
		GetIdentityByIdentifier: func(ctx context.Context, identifier string) (flows.IdentityRecord, bool, error) {
			identity, err := e.identities.GetByIdentifier(ctx, identifier)
			if err != nil {
				if errors.Is(err, ErrIdentityNotFound) {
					return flows.IdentityRecord{}, false, nil
				}
				return flows.IdentityRecord{}, false, err
			}
			return toRecord(identity), true, nil
		},
		VerifyPassword: e.hasher.Verify,
		PasswordNeedsUpgrade: func(hash string) bool {
			if !e.config.Password.UpgradeOnLogin {
				return false
			}
			needs, err := e.hasher.NeedsUpgrade(hash)
			return err == nil && needs
		},
		HashPassword: e.hasher.Hash,
		RehashCredential: func(ctx context.Context, identityID, newHash string) error {
			return e.identities.RehashCredential(ctx, identityID, newHash)
		},
		RecordFailure: func(ctx context.Context, identityID string) (flows.LockoutSnapshot, bool, error) {
			var locked bool
			state, err := e.identities.ApplyLockout(ctx, identityID, func(s LockoutState) LockoutState {
				next, nowLocked := e.lockout.OnFailure(lockout.State(s), time.Now())
				locked = nowLocked
				return LockoutState(next)
			})
			if err != nil {
				return flows.LockoutSnapshot{}, false, err
			}
			return flows.LockoutSnapshot{
				FailedAttempts: state.FailedAttempts,
				LockedUntil:    state.LockedUntil,
			}, locked, nil
		},
		ClearLockout: func(ctx context.Context, identityID string) error {
			_, err := e.identities.ApplyLockout(ctx, identityID, func(s LockoutState) LockoutState {
				return LockoutState(e.lockout.OnSuccess(lockout.State(s)))
			})
			return err
		},
		IssueSession: issueSession,
		MetricInc:    metricInc,
		EmitAudit:    e.emitAudit,
		Warn:         warn,
		Metrics: flows.LoginMetrics{
			Success:        int(MetricLoginSuccess),
			Failure:        int(MetricLoginFailure),
			Lockout:        int(MetricLockout),
			SessionCreated: int(MetricSessionCreated),
		},
		Events: flows.LoginEvents{
			Success: auditLogin,
			Failure: auditLoginFailed,
			Locked:  auditLoginLocked,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountLocked:      ErrAccountLocked,
			AccountInactive:    ErrAccountInactive,
		},
	}

	invalidateIdentityCache := func(identityID string) {
		if e.verifyCache != nil {
			e.verifyCache.InvalidateIdentity(identityID)
		}
	}

	refresh := flows.RefreshDeps{
		Now: time.Now,
		ParseRefresh: func(token string) (flows.RefreshClaims, error) {
			claims, err := e.tokens.Parse(token, jwt.TypeRefresh)
			if err != nil {
				return flows.RefreshClaims{}, mapTokenErr(err)
			}
			return flows.RefreshClaims{
				IdentityID:        claims.Subject,
				SessionID:         claims.SessionID,
				CredentialVersion: claims.CredentialVersion,
			}, nil
		},
		NewTokenID: session.NewTokenID,
		HashToken:  session.HashToken,
		IssueAccess: func(identityID, sessionID string, cv uint32, jti string, now time.Time) (string, error) {
			return e.tokens.Issue(identityID, sessionID, cv, jwt.TypeAccess, jti, now)
		},
		IssueRefresh: func(identityID, sessionID string, cv uint32, jti string, now time.Time) (string, error) {
			return e.tokens.Issue(identityID, sessionID, cv, jwt.TypeRefresh, jti, now)
		},
		Rotate:                  e.sessions.Rotate,
		RevokeSession:           e.sessions.Revoke,
		RevokeAllSessions:       e.sessions.RevokeAll,
		GetIdentity:             getIdentity,
		InvalidateIdentityCache: invalidateIdentityCache,
		MetricInc:               metricInc,
		EmitAudit:               e.emitAudit,
		Warn:                    warn,
		Metrics: flows.RefreshMetrics{
			Rotated:         int(MetricRefreshRotated),
			ReuseDetected:   int(MetricRefreshReuseDetected),
			Failure:         int(MetricRefreshFailure),
			StaleCredential: int(MetricStaleCredential),
		},
		Events: flows.RefreshEvents{
			Success: auditRefresh,
			Reuse:   auditRefreshReuse,
			Failure: auditRefreshFailed,
		},
		Errors: flows.RefreshErrors{
			EngineNotReady:  ErrEngineNotReady,
			SessionNotFound: ErrSessionNotFound,
			RefreshReuse:    ErrRefreshReuse,
			StaleCredential: ErrStaleCredential,
			AccountInactive: ErrAccountInactive,
		},
	}

	logout := flows.LogoutDeps{
		GetSession:        e.sessions.Get,
		RevokeSession:     e.sessions.Revoke,
		RevokeAllSessions: e.sessions.RevokeAll,
		InvalidateSessionCache: func(identityID, sessionID string) {
			// Cache keys are token hashes, not session ids; the identity
			// sweep is the narrowest available invalidation.
			invalidateIdentityCache(identityID)
		},
		InvalidateIdentityCache: invalidateIdentityCache,
		MetricInc:               metricInc,
		EmitAudit:               e.emitAudit,
		Metrics: flows.LogoutMetrics{
			SessionRevoked: int(MetricSessionRevoked),
			LogoutAll:      int(MetricLogoutAll),
		},
		Events: flows.LogoutEvents{
			Logout:    auditLogout,
			LogoutAll: auditLogoutAll,
		},
		Errors: flows.LogoutErrors{
			EngineNotReady:  ErrEngineNotReady,
			SessionNotFound: ErrSessionNotFound,
		},
	}

	verify := flows.VerifyDeps{
		Now: time.Now,
		ParseAccess: func(token string) (flows.AccessClaims, error) {
			claims, err := e.tokens.Parse(token, jwt.TypeAccess)
			if err != nil {
				return flows.AccessClaims{}, mapTokenErr(err)
			}
			return flows.AccessClaims{
				IdentityID:        claims.Subject,
				SessionID:         claims.SessionID,
				CredentialVersion: claims.CredentialVersion,
				ExpiresAt:         claims.ExpiresAt.Time,
			}, nil
		},
		CacheKey:                session.HashToken,
		GetSession:              e.sessions.Get,
		GetIdentity:             getIdentity,
		InvalidateIdentityCache: invalidateIdentityCache,
		MetricInc:               metricInc,
		EmitAudit:               e.emitAudit,
		Metrics: flows.VerifyMetrics{
			CacheHit:        int(MetricCacheHit),
			CacheMiss:       int(MetricCacheMiss),
			StaleCredential: int(MetricStaleCredential),
			Failure:         int(MetricVerifyRejected),
		},
		Events: flows.VerifyEvents{Rejected: auditVerifyRejected},
		Errors: flows.VerifyErrors{
			EngineNotReady:  ErrEngineNotReady,
			SessionNotFound: ErrSessionNotFound,
			StaleCredential: ErrStaleCredential,
			AccountInactive: ErrAccountInactive,
			DeviceMismatch:  ErrDeviceMismatch,
		},
	}
	if e.verifyCache != nil {
		verify.CacheGet = func(key string) (flows.CacheEntry, bool) {
			entry, ok := e.verifyCache.Get(key, time.Now())
			if !ok {
				return flows.CacheEntry{}, false
			}
			return flows.CacheEntry{
				IdentityID:        entry.IdentityID,
				SessionID:         entry.SessionID,
				CredentialVersion: entry.CredentialVersion,
			}, true
		}
		verify.CachePut = func(key string, entry flows.CacheEntry, ttl time.Duration) {
			e.verifyCache.Put(key, cache.Entry{
				IdentityID:        entry.IdentityID,
				SessionID:         entry.SessionID,
				CredentialVersion: entry.CredentialVersion,
			}, ttl, time.Now())
		}
		verify.CacheDrop = e.verifyCache.Invalidate
	}
	if e.config.DeviceBinding.EnforceIP || e.config.DeviceBinding.EnforceUserAgent {
		verify.EnforceBinding = func(ctx context.Context, sess *session.Session) error {
			if e.config.DeviceBinding.EnforceIP && sess.IPHash != "" {
				if session.HashFingerprint(clientIPFromContext(ctx)) != sess.IPHash {
					return ErrDeviceMismatch
				}
			}
			if e.config.DeviceBinding.EnforceUserAgent && sess.UserAgentHash != "" {
				if session.HashFingerprint(userAgentFromContext(ctx)) != sess.UserAgentHash {
					return ErrDeviceMismatch
				}
			}
			return nil
		}
	}

	credential := flows.CredentialDeps{
		GetIdentity:             getIdentity,
		VerifyPassword:          e.hasher.Verify,
		CheckPasswordPolicy:     e.checkPasswordPolicy,
		HashPassword:            e.hasher.Hash,
		UpdateCredential:        e.identities.UpdateCredential,
		BumpVersion:             e.identities.BumpCredentialVersion,
		SetActive:               e.identities.SetActive,
		RevokeAllSessions:       e.sessions.RevokeAll,
		InvalidateIdentityCache: invalidateIdentityCache,
		MetricInc:               metricInc,
		EmitAudit:               e.emitAudit,
		Metrics: flows.CredentialMetrics{
			PasswordChanged: int(MetricPasswordChanged),
			Invalidated:     int(MetricTokensInvalidated),
		},
		Events: flows.CredentialEvents{
			PasswordChanged: auditPasswordChanged,
			PasswordDenied:  auditPasswordDenied,
			Invalidated:     auditTokensInvalidated,
			Deactivated:     auditAccountDeactivated,
			Reactivated:     auditAccountReactivated,
		},
		Errors: flows.CredentialErrors{
			EngineNotReady:     ErrEngineNotReady,
			IdentityNotFound:   ErrIdentityNotFound,
			InvalidCredentials: ErrInvalidCredentials,
		},
	}

	return flows.New(flows.Deps{
		Issue:      issue,
		Register:   register,
		Login:      login,
		Refresh:    refresh,
		Logout:     logout,
		Verify:     verify,
		Credential: credential,
	})
}
