// Package authgate provides an authentication and session-lifecycle engine with
// JWT access tokens, rotating refresh tokens, a Redis-backed session registry,
// and failed-login lockout.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (Result, VerifyResult, MetricsSnapshot). All internal
// coordination — flow orchestration, lockout arithmetic, audit dispatch —
// lives under internal/ and is never exported. Pluggable pieces (identity
// storage, HTTP middleware, metrics export) live in their own sub-packages and
// depend only on the public surface.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or token encoding details in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Import any sub-package that re-imports authgate (no import cycles).
//
// # Performance contract
//
// Verify is the hot path. With the verification cache warm it must complete
// without a Redis round-trip. Refresh, Login, and Logout are allowed one
// Redis round-trip per call; identity-store traffic depends on the backend.
package authgate
