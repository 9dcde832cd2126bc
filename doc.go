// Package authcore is the identity and authorization core of the platform:
// password login with progressive lockout, TOTP and backup-code second
// factors, short-lived JWT access tokens with rotating refresh tokens,
// a Redis session registry and a 128-bit capability resolver.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (TokenPair, SessionInfo, Decision, MetricsSnapshot).
// Redis key layouts, limiter windows and audit dispatch live under
// internal/ and are never exported. Durable state (users, roles,
// overwrites) is reached through the [UserStore] and [PermissionSource]
// interfaces; internal/postgres provides the production implementations.
//
// # Token lifecycle
//
// Every sign-in creates a session whose refresh_version starts at 1. A
// refresh token carries the version it was minted at. [Engine.Refresh]
// compares and increments the version atomically; presenting an older
// version is treated as theft and destroys the session.
//
// # Hot path
//
// [Engine.VerifyAccess] performs one pipelined Redis round trip: the
// blacklist check, plus the session existence check in [ModeStrict].
// [Engine.Authorize] adds at most one store read per (server, channel,
// user) within the permission cache TTL.
package authcore
