package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nebulock/authgate/session"
)

var (
	errNotReady    = errors.New("not ready")
	errInvalidCred = errors.New("invalid credentials")
	errLocked      = errors.New("account locked")
	errInactive    = errors.New("account inactive")
)

func loginTestDeps(identity IdentityRecord, found bool) (*LoginDeps, *[]string) {
	var events []string
	deps := &LoginDeps{
		Now: time.Now,
		GetIdentityByIdentifier: func(_ context.Context, identifier string) (IdentityRecord, bool, error) {
			return identity, found, nil
		},
		VerifyPassword: func(password, hash string) (bool, error) {
			return password == hash, nil
		},
		RecordFailure: func(_ context.Context, id string) (LockoutSnapshot, bool, error) {
			return LockoutSnapshot{FailedAttempts: 1}, false, nil
		},
		ClearLockout: func(context.Context, string) error { return nil },
		IssueSession: func(_ context.Context, id IdentityRecord) (*SessionGrant, error) {
			return &SessionGrant{
				Session:      &session.Session{ID: "sess-1", IdentityID: id.ID},
				AccessToken:  "at",
				RefreshToken: "rt",
			}, nil
		},
		EmitAudit: func(_ context.Context, action string, _ bool, _, _ string, _ error, _ func() map[string]string) {
			events = append(events, action)
		},
		Events: LoginEvents{Success: "login_ok", Failure: "login_fail", Locked: "login_locked"},
		Errors: LoginErrors{
			EngineNotReady:     errNotReady,
			InvalidCredentials: errInvalidCred,
			AccountLocked:      errLocked,
			AccountInactive:    errInactive,
		},
	}
	return deps, &events
}

func TestLoginSuccess(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", PasswordHash: "correct", Active: true}
	deps, events := loginTestDeps(identity, true)

	res, err := RunLogin(context.Background(), "alice", "correct", *deps)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Grant.Session.ID != "sess-1" || res.Identity.ID != "id-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(*events) != 1 || (*events)[0] != "login_ok" {
		t.Fatalf("audit events: %v", *events)
	}
}

func TestLoginUnknownIdentifierMatchesWrongPassword(t *testing.T) {
	unknownDeps, _ := loginTestDeps(IdentityRecord{}, false)
	_, errUnknown := RunLogin(context.Background(), "ghost", "pw", *unknownDeps)

	knownDeps, _ := loginTestDeps(IdentityRecord{ID: "id-1", PasswordHash: "correct", Active: true}, true)
	_, errWrongPw := RunLogin(context.Background(), "alice", "wrong", *knownDeps)

	if !errors.Is(errUnknown, errInvalidCred) || !errors.Is(errWrongPw, errInvalidCred) {
		t.Fatalf("enumeration-safe errors differ: %v vs %v", errUnknown, errWrongPw)
	}
}

func TestLoginLockedShortCircuits(t *testing.T) {
	identity := IdentityRecord{
		ID:           "id-1",
		PasswordHash: "correct",
		Active:       true,
		LockedUntil:  time.Now().Add(time.Minute),
	}
	deps, _ := loginTestDeps(identity, true)
	recorded := false
	deps.RecordFailure = func(_ context.Context, _ string) (LockoutSnapshot, bool, error) {
		recorded = true
		return LockoutSnapshot{}, false, nil
	}

	// Correct password must not matter while the lock is open.
	_, err := RunLogin(context.Background(), "alice", "correct", *deps)
	if !errors.Is(err, errLocked) {
		t.Fatalf("want locked, got %v", err)
	}
	if recorded {
		t.Fatal("locked login must not touch the attempt counter")
	}
}

func TestLoginFailureRecordsAttempt(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", PasswordHash: "correct", Active: true}
	deps, _ := loginTestDeps(identity, true)
	recorded := 0
	deps.RecordFailure = func(_ context.Context, _ string) (LockoutSnapshot, bool, error) {
		recorded++
		return LockoutSnapshot{FailedAttempts: 1}, false, nil
	}

	_, err := RunLogin(context.Background(), "alice", "wrong", *deps)
	if !errors.Is(err, errInvalidCred) {
		t.Fatalf("want invalid credentials, got %v", err)
	}
	if recorded != 1 {
		t.Fatalf("attempt recorded %d times", recorded)
	}
}

func TestLoginInactiveIdentity(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", PasswordHash: "correct", Active: false}
	deps, _ := loginTestDeps(identity, true)

	_, err := RunLogin(context.Background(), "alice", "correct", *deps)
	if !errors.Is(err, errInactive) {
		t.Fatalf("want inactive, got %v", err)
	}
}

func TestLoginClearsLapsedLockOnSuccess(t *testing.T) {
	identity := IdentityRecord{
		ID:             "id-1",
		PasswordHash:   "correct",
		Active:         true,
		FailedAttempts: 5,
		LockedUntil:    time.Now().Add(-time.Minute),
	}
	deps, _ := loginTestDeps(identity, true)
	cleared := false
	deps.ClearLockout = func(context.Context, string) error {
		cleared = true
		return nil
	}

	if _, err := RunLogin(context.Background(), "alice", "correct", *deps); err != nil {
		t.Fatalf("login after lapsed lock: %v", err)
	}
	if !cleared {
		t.Fatal("successful login did not clear lockout state")
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", PasswordHash: "correct", Active: true}
	deps, _ := loginTestDeps(identity, true)
	deps.PasswordNeedsUpgrade = func(string) bool { return true }
	deps.HashPassword = func(pw string) (string, error) { return "upgraded:" + pw, nil }
	var rehashed string
	deps.RehashCredential = func(_ context.Context, _, newHash string) error {
		rehashed = newHash
		return nil
	}

	if _, err := RunLogin(context.Background(), "alice", "correct", *deps); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rehashed != "upgraded:correct" {
		t.Fatalf("hash not upgraded, got %q", rehashed)
	}
}

func TestLoginUnwiredDeps(t *testing.T) {
	_, err := RunLogin(context.Background(), "alice", "pw", LoginDeps{
		Errors: LoginErrors{EngineNotReady: errNotReady},
	})
	if !errors.Is(err, errNotReady) {
		t.Fatalf("want not-ready, got %v", err)
	}
}
