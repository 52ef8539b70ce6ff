// Package postgres implements IdentityStore on a PostgreSQL pool via pgx.
//
// Expected schema:
//
//	CREATE TABLE identities (
//	    id                 TEXT PRIMARY KEY,
//	    identifier         TEXT NOT NULL UNIQUE,
//	    password_hash      TEXT NOT NULL,
//	    credential_version INTEGER NOT NULL DEFAULT 1,
//	    active             BOOLEAN NOT NULL DEFAULT TRUE,
//	    failed_attempts    INTEGER NOT NULL DEFAULT 0,
//	    locked_until       TIMESTAMPTZ,
//	    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nebulock/authgate"
)

// unique_violation per the PostgreSQL error code table.
const pgUniqueViolation = "23505"

var _ authgate.IdentityStore = (*IdentityStore)(nil)

type IdentityStore struct {
	pool *pgxpool.Pool
}

func NewIdentityStore(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

const identityColumns = `id, identifier, password_hash, credential_version, active,
	failed_attempts, locked_until, created_at, updated_at`

func scanIdentity(row pgx.Row) (authgate.Identity, error) {
	var identity authgate.Identity
	var lockedUntil *time.Time
	err := row.Scan(
		&identity.ID, &identity.Identifier, &identity.PasswordHash,
		&identity.CredentialVersion, &identity.Active, &identity.FailedAttempts,
		&lockedUntil, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authgate.Identity{}, authgate.ErrIdentityNotFound
		}
		return authgate.Identity{}, fmt.Errorf("failed to scan identity: %w", err)
	}
	if lockedUntil != nil {
		identity.LockedUntil = *lockedUntil
	}
	return identity, nil
}

func (s *IdentityStore) Get(ctx context.Context, id string) (authgate.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentity(s.pool.QueryRow(ctx, query, id))
}

func (s *IdentityStore) GetByIdentifier(ctx context.Context, identifier string) (authgate.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE identifier = $1`
	return scanIdentity(s.pool.QueryRow(ctx, query, identifier))
}

func (s *IdentityStore) Create(ctx context.Context, input authgate.CreateIdentityInput) (authgate.Identity, error) {
	query := `INSERT INTO identities (id, identifier, password_hash, credential_version, active)
			  VALUES ($1, $2, $3, $4, TRUE)
			  RETURNING ` + identityColumns

	identity, err := scanIdentity(s.pool.QueryRow(ctx, query,
		input.ID, input.Identifier, input.PasswordHash, input.CredentialVersion,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return authgate.Identity{}, authgate.ErrDuplicateIdentity
		}
		return authgate.Identity{}, err
	}
	return identity, nil
}

func (s *IdentityStore) UpdateCredential(ctx context.Context, id string, newHash string) (uint32, error) {
	query := `UPDATE identities
			  SET password_hash = $2, credential_version = credential_version + 1, updated_at = now()
			  WHERE id = $1
			  RETURNING credential_version`

	var version uint32
	if err := s.pool.QueryRow(ctx, query, id, newHash).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, authgate.ErrIdentityNotFound
		}
		return 0, fmt.Errorf("failed to update credential: %w", err)
	}
	return version, nil
}

func (s *IdentityStore) RehashCredential(ctx context.Context, id string, newHash string) error {
	query := `UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, newHash)
	if err != nil {
		return fmt.Errorf("failed to rehash credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrIdentityNotFound
	}
	return nil
}

func (s *IdentityStore) BumpCredentialVersion(ctx context.Context, id string) (uint32, error) {
	query := `UPDATE identities
			  SET credential_version = credential_version + 1, updated_at = now()
			  WHERE id = $1
			  RETURNING credential_version`

	var version uint32
	if err := s.pool.QueryRow(ctx, query, id).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, authgate.ErrIdentityNotFound
		}
		return 0, fmt.Errorf("failed to bump credential version: %w", err)
	}
	return version, nil
}

// ApplyLockout serializes racing updates with a row lock: two concurrent
// failures cannot both read the same attempt counter.
func (s *IdentityStore) ApplyLockout(ctx context.Context, id string, fn func(authgate.LockoutState) authgate.LockoutState) (authgate.LockoutState, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return authgate.LockoutState{}, fmt.Errorf("failed to begin lockout tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var state authgate.LockoutState
	var lockedUntil *time.Time
	row := tx.QueryRow(ctx,
		`SELECT failed_attempts, locked_until FROM identities WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(&state.FailedAttempts, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authgate.LockoutState{}, authgate.ErrIdentityNotFound
		}
		return authgate.LockoutState{}, fmt.Errorf("failed to read lockout state: %w", err)
	}
	if lockedUntil != nil {
		state.LockedUntil = *lockedUntil
	}

	next := fn(state)

	var nextLocked *time.Time
	if !next.LockedUntil.IsZero() {
		nextLocked = &next.LockedUntil
	}
	_, err = tx.Exec(ctx,
		`UPDATE identities SET failed_attempts = $2, locked_until = $3, updated_at = now() WHERE id = $1`,
		id, next.FailedAttempts, nextLocked)
	if err != nil {
		return authgate.LockoutState{}, fmt.Errorf("failed to write lockout state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return authgate.LockoutState{}, fmt.Errorf("failed to commit lockout tx: %w", err)
	}
	return next, nil
}

func (s *IdentityStore) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE identities SET active = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrIdentityNotFound
	}
	return nil
}
