package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulock/authgate"
)

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()

	created, err := store.Create(ctx, authgate.CreateIdentityInput{
		ID:                "id-1",
		Identifier:        "alice",
		PasswordHash:      "hash",
		CredentialVersion: 1,
	})
	require.NoError(t, err)
	assert.True(t, created.Active)

	byID, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, created, byID)

	byIdent, err := store.GetByIdentifier(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created, byIdent)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, authgate.ErrIdentityNotFound)
}

func TestCreateDuplicateIdentifier(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()

	_, err := store.Create(ctx, authgate.CreateIdentityInput{ID: "id-1", Identifier: "alice"})
	require.NoError(t, err)

	_, err = store.Create(ctx, authgate.CreateIdentityInput{ID: "id-2", Identifier: "alice"})
	assert.ErrorIs(t, err, authgate.ErrDuplicateIdentity)
}

func TestUpdateCredentialBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()
	_, err := store.Create(ctx, authgate.CreateIdentityInput{
		ID: "id-1", Identifier: "alice", PasswordHash: "old", CredentialVersion: 1,
	})
	require.NoError(t, err)

	version, err := store.UpdateCredential(ctx, "id-1", "new")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), version)

	identity, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "new", identity.PasswordHash)
}

func TestRehashKeepsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()
	_, err := store.Create(ctx, authgate.CreateIdentityInput{
		ID: "id-1", Identifier: "alice", PasswordHash: "old", CredentialVersion: 1,
	})
	require.NoError(t, err)

	require.NoError(t, store.RehashCredential(ctx, "id-1", "upgraded"))

	identity, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "upgraded", identity.PasswordHash)
	assert.Equal(t, uint32(1), identity.CredentialVersion)
}

func TestApplyLockoutSerialized(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()
	_, err := store.Create(ctx, authgate.CreateIdentityInput{ID: "id-1", Identifier: "alice"})
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.ApplyLockout(ctx, "id-1", func(s authgate.LockoutState) authgate.LockoutState {
				s.FailedAttempts++
				return s
			})
		}()
	}
	wg.Wait()

	identity, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, workers, identity.FailedAttempts, "no increments may be lost")
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()
	_, err := store.Create(ctx, authgate.CreateIdentityInput{ID: "id-1", Identifier: "alice"})
	require.NoError(t, err)

	require.NoError(t, store.SetActive(ctx, "id-1", false))
	identity, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, identity.Active)

	assert.ErrorIs(t, store.SetActive(ctx, "missing", false), authgate.ErrIdentityNotFound)
}

func TestLockoutStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore()
	_, err := store.Create(ctx, authgate.CreateIdentityInput{ID: "id-1", Identifier: "alice"})
	require.NoError(t, err)

	until := time.Now().Add(15 * time.Minute)
	state, err := store.ApplyLockout(ctx, "id-1", func(authgate.LockoutState) authgate.LockoutState {
		return authgate.LockoutState{FailedAttempts: 5, LockedUntil: until}
	})
	require.NoError(t, err)
	assert.Equal(t, 5, state.FailedAttempts)

	identity, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, until, identity.LockedUntil)
	assert.True(t, identity.Locked(time.Now()))
}
