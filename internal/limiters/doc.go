// Package limiters provides the account-level guards that sit in front of
// credential and second-factor verification.
//
// # Limiters
//
//   - [LoginGuard] applies progressive lockout. The failed-attempt counter lives
//     in the credential store and is incremented atomically there; the
//     escalation history lives in Redis under "alk:<uid>" with a rolling
//     window measured from the most recent lockout.
//   - [AttemptBudget] caps consecutive failures per subject inside a fixed
//     window. The engine uses one for second-factor codes under "att:<uid>".
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Compare credentials; callers decide what counts as a failure.
package limiters
