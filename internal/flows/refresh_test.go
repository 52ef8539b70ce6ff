package flows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nebulock/authgate/session"
)

var (
	errSessionGone = errors.New("session not found")
	errReuse       = errors.New("refresh reuse")
	errStale       = errors.New("stale credential")
)

type refreshHarness struct {
	deps       RefreshDeps
	revokedAll []string
	revoked    []string
	swept      []string
}

func newRefreshHarness(identity IdentityRecord, rotateErr error) *refreshHarness {
	h := &refreshHarness{}
	tokenSeq := 0
	h.deps = RefreshDeps{
		Now: time.Now,
		ParseRefresh: func(token string) (RefreshClaims, error) {
			return RefreshClaims{IdentityID: identity.ID, SessionID: "sess-1", CredentialVersion: 1}, nil
		},
		NewTokenID: func() (string, error) {
			tokenSeq++
			return fmt.Sprintf("jti-%d", tokenSeq), nil
		},
		HashToken: session.HashToken,
		IssueAccess: func(id, sid string, cv uint32, jti string, _ time.Time) (string, error) {
			return "access-" + jti, nil
		},
		IssueRefresh: func(id, sid string, cv uint32, jti string, _ time.Time) (string, error) {
			return "refresh-" + jti, nil
		},
		Rotate: func(_ context.Context, sid, provided, next string) (*session.Session, error) {
			if rotateErr != nil {
				return nil, rotateErr
			}
			return &session.Session{ID: sid, IdentityID: identity.ID, RefreshHash: next}, nil
		},
		RevokeSession: func(_ context.Context, sid string) error {
			h.revoked = append(h.revoked, sid)
			return nil
		},
		RevokeAllSessions: func(_ context.Context, id string) (int, error) {
			h.revokedAll = append(h.revokedAll, id)
			return 2, nil
		},
		GetIdentity: func(_ context.Context, id string) (IdentityRecord, bool, error) {
			return identity, identity.ID != "", nil
		},
		InvalidateIdentityCache: func(id string) {
			h.swept = append(h.swept, id)
		},
		Errors: RefreshErrors{
			EngineNotReady:  errNotReady,
			SessionNotFound: errSessionGone,
			RefreshReuse:    errReuse,
			StaleCredential: errStale,
			AccountInactive: errInactive,
		},
	}
	return h
}

func TestRefreshRotates(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", Active: true, CredentialVersion: 1}
	h := newRefreshHarness(identity, nil)

	res, err := RunRefresh(context.Background(), "old-refresh", h.deps)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("empty pair: %+v", res)
	}
	if res.RefreshToken == "old-refresh" {
		t.Fatal("refresh token not rotated")
	}
	if len(h.revokedAll) != 0 {
		t.Fatalf("unexpected revocations: %v", h.revokedAll)
	}
}

func TestRefreshReuseRevokesEverything(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", Active: true, CredentialVersion: 1}
	h := newRefreshHarness(identity, session.ErrRefreshMismatch)

	_, err := RunRefresh(context.Background(), "spent-refresh", h.deps)
	if !errors.Is(err, errReuse) {
		t.Fatalf("want reuse, got %v", err)
	}
	if len(h.revokedAll) != 1 || h.revokedAll[0] != "id-1" {
		t.Fatalf("revoke-all not triggered: %v", h.revokedAll)
	}
	if len(h.swept) != 1 {
		t.Fatalf("cache not swept: %v", h.swept)
	}
}

func TestRefreshSessionMissing(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", Active: true, CredentialVersion: 1}
	h := newRefreshHarness(identity, session.ErrNotFound)

	_, err := RunRefresh(context.Background(), "refresh", h.deps)
	if !errors.Is(err, errSessionGone) {
		t.Fatalf("want session-not-found, got %v", err)
	}
	if len(h.revokedAll) != 0 {
		t.Fatal("missing session must not trigger revoke-all")
	}
}

func TestRefreshStaleCredentialVersion(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", Active: true, CredentialVersion: 2}
	h := newRefreshHarness(identity, nil)

	_, err := RunRefresh(context.Background(), "refresh", h.deps)
	if !errors.Is(err, errStale) {
		t.Fatalf("want stale credential, got %v", err)
	}
	if len(h.revoked) != 1 || h.revoked[0] != "sess-1" {
		t.Fatalf("stale session not revoked: %v", h.revoked)
	}
}

func TestRefreshInactiveIdentity(t *testing.T) {
	identity := IdentityRecord{ID: "id-1", Active: false, CredentialVersion: 1}
	h := newRefreshHarness(identity, nil)

	_, err := RunRefresh(context.Background(), "refresh", h.deps)
	if !errors.Is(err, errInactive) {
		t.Fatalf("want inactive, got %v", err)
	}
	if len(h.revoked) != 1 {
		t.Fatalf("inactive identity's session not revoked: %v", h.revoked)
	}
}
