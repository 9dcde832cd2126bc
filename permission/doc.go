// Package permission provides the fixed-width capability bitmask, the
// capability registry, and the pure resolver that folds role grants and
// channel overwrites into an effective mask.
//
// # Mask width
//
// A [Mask] is 128 bits wide. Bits 0-63 live in Lo and bits 64-127 in Hi.
// Every operation is an exact integer operation; there is no floating
// point or arbitrary-precision arithmetic on the hot path. Decimal text
// conversion (used for NUMERIC(39,0) columns and JSON) goes through
// math/big only at the storage boundary.
//
// # Resolution order
//
// [Resolve] applies a fixed precedence:
//
//  1. server owner receives the full set
//  2. base = OR of every assigned role, @everyone included
//  3. administrator in base yields the full set
//  4. role-scoped overwrites: base = (base &^ deny) | allow
//  5. the user-scoped overwrite, applied last
//
// Role position never participates.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore, jwt, or session.
package permission
