// Package password implements password hashing and verification with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) are accepted by [Argon2.Verify]
// and always report [Argon2.NeedsUpgrade], so callers can re-hash them with
// the current Argon2id parameters after the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the password-history helpers
// ([MatchesAny], [PushHistory]). Reuse and length policy is enforced by the
// engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
