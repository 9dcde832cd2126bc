// Package internal contains helpers that are private to authcore: secure
// random identifiers, reset-token framing, backup-code generation and
// device fingerprinting.
//
// # Sub-packages
//
//   - audit - async event dispatch (Dispatcher + Sink implementations)
//   - dbx - database/sql transaction helper
//   - httpapi - chi HTTP surface over the Engine
//   - limiters - progressive login lockout and the second-factor attempt budget
//   - logging - slog-backed Logger used by the engine and server
//   - permcache - in-process cache of resolved permission masks
//   - postgres - credential store and permission source on Postgres
//   - rate - fixed-window Redis rate limiting for public endpoints
//   - stores - Redis token blacklist and password-reset records
//   - tracing - OpenTelemetry tracer provider setup
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
