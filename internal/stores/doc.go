// Package stores provides small Redis-backed record stores used by the
// token and password-reset flows.
//
// # Stores
//
//   - [Blacklist] - revoked access-token IDs ("abl:<jti>") that expire with
//     the token they revoke.
//   - [PasswordResetStore] - single-use reset challenges ("apr:<id>") with
//     attempt limits, consumed under WATCH/MULTI with retry on contention.
//
// Secret comparisons use constant-time compare; only SHA-256 digests of
// secrets are persisted.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose plaintext secrets.
package stores
