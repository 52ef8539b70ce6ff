// Package memory provides an in-memory IdentityStore for tests and local
// development. A single mutex serializes all mutations, which trivially
// satisfies the per-identity atomicity ApplyLockout requires.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nebulock/authgate"
)

var _ authgate.IdentityStore = (*IdentityStore)(nil)

// IdentityStore is safe for concurrent use.
type IdentityStore struct {
	mu           sync.Mutex
	byID         map[string]authgate.Identity
	byIdentifier map[string]string
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		byID:         make(map[string]authgate.Identity),
		byIdentifier: make(map[string]string),
	}
}

func (s *IdentityStore) Get(_ context.Context, id string) (authgate.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return authgate.Identity{}, authgate.ErrIdentityNotFound
	}
	return identity, nil
}

func (s *IdentityStore) GetByIdentifier(_ context.Context, identifier string) (authgate.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdentifier[identifier]
	if !ok {
		return authgate.Identity{}, authgate.ErrIdentityNotFound
	}
	return s.byID[id], nil
}

func (s *IdentityStore) Create(_ context.Context, input authgate.CreateIdentityInput) (authgate.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byIdentifier[input.Identifier]; taken {
		return authgate.Identity{}, authgate.ErrDuplicateIdentity
	}

	now := time.Now()
	identity := authgate.Identity{
		ID:                input.ID,
		Identifier:        input.Identifier,
		PasswordHash:      input.PasswordHash,
		CredentialVersion: input.CredentialVersion,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.byID[identity.ID] = identity
	s.byIdentifier[identity.Identifier] = identity.ID
	return identity, nil
}

func (s *IdentityStore) UpdateCredential(_ context.Context, id string, newHash string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return 0, authgate.ErrIdentityNotFound
	}
	identity.PasswordHash = newHash
	identity.CredentialVersion++
	identity.UpdatedAt = time.Now()
	s.byID[id] = identity
	return identity.CredentialVersion, nil
}

func (s *IdentityStore) RehashCredential(_ context.Context, id string, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return authgate.ErrIdentityNotFound
	}
	identity.PasswordHash = newHash
	identity.UpdatedAt = time.Now()
	s.byID[id] = identity
	return nil
}

func (s *IdentityStore) BumpCredentialVersion(_ context.Context, id string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return 0, authgate.ErrIdentityNotFound
	}
	identity.CredentialVersion++
	identity.UpdatedAt = time.Now()
	s.byID[id] = identity
	return identity.CredentialVersion, nil
}

func (s *IdentityStore) ApplyLockout(_ context.Context, id string, fn func(authgate.LockoutState) authgate.LockoutState) (authgate.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return authgate.LockoutState{}, authgate.ErrIdentityNotFound
	}

	next := fn(authgate.LockoutState{
		FailedAttempts: identity.FailedAttempts,
		LockedUntil:    identity.LockedUntil,
	})
	identity.FailedAttempts = next.FailedAttempts
	identity.LockedUntil = next.LockedUntil
	identity.UpdatedAt = time.Now()
	s.byID[id] = identity
	return next, nil
}

func (s *IdentityStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return authgate.ErrIdentityNotFound
	}
	identity.Active = active
	identity.UpdatedAt = time.Now()
	s.byID[id] = identity
	return nil
}
