package session

import "time"

// Session is one authenticated device. RefreshVersion identifies the only
// refresh token that may still be exchanged.
type Session struct {
	ID                string
	UserID            string
	DeviceFingerprint string
	IP                string
	UserAgent         string
	RefreshVersion    uint64
	RememberMe        bool

	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Expired reports whether the session lifetime has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// RotateStatus is the outcome of a refresh-version compare-and-swap.
type RotateStatus int

const (
	// RotateNotFound means the session does not exist (revoked or expired).
	RotateNotFound RotateStatus = iota
	// RotateExpired means the session existed but its lifetime had elapsed.
	RotateExpired
	// RotateReuse means the presented version was not current; the session
	// has been deleted.
	RotateReuse
	// RotateOK means the version advanced.
	RotateOK
)

// RotateResult reports the new version after a successful rotation, or
// the stored version when reuse was detected.
type RotateResult struct {
	Status  RotateStatus
	Version uint64
	UserID  string
}
