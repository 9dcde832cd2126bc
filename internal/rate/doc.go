// Package rate provides fixed-window Redis counters that throttle the
// public authentication endpoints independently of account lockout.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on first hit. Keys are
// "arl:<action>:<scope>:<value>" where scope is "id" (normalized
// identifier) or "ip".
//
// # What this package must NOT do
//
//   - Implement lockout policy (that lives in internal/limiters).
//   - Be imported outside the authcore module.
package rate
