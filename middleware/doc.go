// Package middleware adapts the authcore engine to net/http and chi.
//
// # Guards
//
//   - [ClientContext] records the caller's IP and User-Agent for the engine.
//   - [Guard] verifies the bearer access token and stores the
//     [authcore.Identity] in the request context.
//   - [RequireCapability] asks the authorization gate for a capability mask
//     in the resource named by the request.
//
// The validation mode (JWT-only or strict) is an engine setting; every
// guard follows it.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It never
// parses tokens, touches Redis or resolves permissions itself.
package middleware
