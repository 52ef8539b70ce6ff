// Package lockout implements the failed-login lockout policy as a pure
// state machine over an identity's attempt counter and lock timestamp.
//
// The package computes transitions only; it never touches storage. Callers
// apply transitions through the identity store's atomic per-identity update
// so two concurrent failures cannot both observe the same counter value.
package lockout

import "time"

// Defaults applied by Config.Normalize.
const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute
)

// Config holds the lockout policy parameters.
type Config struct {
	// Threshold is the number of consecutive failures that trips the lock.
	Threshold int
	// Duration is the length of the lock window.
	Duration time.Duration
}

// Normalize fills zero fields with the defaults.
func (c Config) Normalize() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	return c
}

// State is the lockout slice of an identity row. A zero LockedUntil means
// the identity has never been locked (or the lock was cleared).
type State struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// Locked reports whether the lock window is still open at now. A lapsed
// window is evaluated lazily: the state is not rewritten until the next
// login attempt resolves.
func (s State) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// OnFailure returns the state after a failed login attempt and whether the
// identity is locked afterwards.
//
// A failure while a lapsed lock is still on record re-enters the locked
// state immediately with a fresh window and the counter reset to 1; the
// stale counter does not accumulate.
func (c Config) OnFailure(s State, now time.Time) (State, bool) {
	c = c.Normalize()

	if !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil) {
		return State{
			FailedAttempts: 1,
			LockedUntil:    now.Add(c.Duration),
		}, true
	}

	s.FailedAttempts++
	if s.FailedAttempts >= c.Threshold {
		s.LockedUntil = now.Add(c.Duration)
		return s, true
	}
	return s, false
}

// OnSuccess returns the state after a successful login: counter zeroed,
// lock cleared. Applies from any state.
func (c Config) OnSuccess(State) State {
	return State{}
}
