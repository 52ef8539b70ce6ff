package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewStore(rdb, "ag"), mr
}

func testSession(id, identityID, refreshHash string) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		IdentityID:  identityID,
		RefreshHash: refreshHash,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", "id-1", HashToken("refresh-1"))
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IdentityID != "id-1" || got.RefreshHash != sess.RefreshHash {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestGetMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetExpiredSessionCleansUp(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-exp", "id-1", HashToken("refresh-1"))
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Get(ctx, "sid-exp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "id-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs: %v", err)
	}
	for _, id := range ids {
		if id == "sid-exp" {
			t.Fatal("expired session still indexed")
		}
	}
}

func TestRotateSwapsHash(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	oldHash := HashToken("refresh-old")
	newHash := HashToken("refresh-new")
	if err := store.Save(ctx, testSession("sid-1", "id-1", oldHash), time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rotated, err := store.Rotate(ctx, "sid-1", oldHash, newHash)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.RefreshHash != newHash {
		t.Fatalf("hash not swapped: %s", rotated.RefreshHash)
	}

	// The old hash is now stale: presenting it again is reuse.
	if _, err := store.Rotate(ctx, "sid-1", oldHash, HashToken("refresh-3")); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch, got %v", err)
	}

	// The session itself survives a mismatch; escalation is the caller's.
	if _, err := store.Get(ctx, "sid-1"); err != nil {
		t.Fatalf("session should survive mismatch: %v", err)
	}
}

func TestRotateMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Rotate(context.Background(), "absent", HashToken("a"), HashToken("b")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	current := HashToken("refresh-current")
	if err := store.Save(ctx, testSession("sid-race", "id-1", current), time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		next := HashToken("refresh-next-" + string(rune('a'+i)))
		go func(nextHash string) {
			defer wg.Done()
			<-start
			_, err := store.Rotate(ctx, "sid-race", current, nextHash)
			results <- err
		}(next)
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshMismatch):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("sid-1", "id-1", HashToken("r")), time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Revoke(ctx, "sid-1"); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := store.Revoke(ctx, "sid-1"); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sid-a", "sid-b", "sid-c"} {
		if err := store.Save(ctx, testSession(id, "id-1", HashToken(id)), time.Hour); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := store.Save(ctx, testSession("sid-other", "id-2", HashToken("x")), time.Hour); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	removed, err := store.RevokeAll(ctx, "id-1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	for _, id := range []string{"sid-a", "sid-b", "sid-c"} {
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %s survived RevokeAll", id)
		}
	}
	if _, err := store.Get(ctx, "sid-other"); err != nil {
		t.Fatalf("unrelated identity's session was revoked: %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	if _, err := store.Get(context.Background(), "sid"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := store.Save(context.Background(), testSession("sid", "id", "h"), time.Hour); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
