// Package session provides the Redis-backed session registry that anchors
// every issued token pair.
//
// # Storage layout
//
// Each session is a Redis hash at "<prefix>:<sid>" holding the owning user,
// device metadata, timestamps and the refresh version. A per-user set at
// "<prefix>u:<uid>" indexes live session IDs. Mutations that must observe
// the version (rotation, revocation) run as Lua scripts so that a refresh
// racing a revoke always sees the revoked state.
//
// The scripts build the index key from the stored user ID instead of
// declaring it in KEYS, so the store needs one keyspace. Cluster and Ring
// clients are rejected by [CheckClient].
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT
// interpret JWT tokens, evaluate permissions, or enforce authentication policy; those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Perform application-level authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
