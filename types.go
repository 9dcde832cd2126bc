package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/permission"
)

// User is the credential-store view of an account.
type User struct {
	ID                  string
	Email               string
	Username            string
	PasswordHash        string
	FailedLoginAttempts int
	LockedUntil         time.Time
	PasswordHistory     []string
	LastPasswordChange  time.Time
	TwoFactorEnabled    bool
	CreatedAt           time.Time
}

// PublicUser is the subset of User returned to clients.
type PublicUser struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// Public strips credential material from u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

// CreateUserInput is the input for [UserStore.CreateUser].
type CreateUserInput struct {
	Email        string
	Username     string
	PasswordHash string
}

// TwoFactorRecord is the stored second-factor state of a user. Secret is
// base32. Enabled stays false until setup is confirmed.
type TwoFactorRecord struct {
	Secret          string
	Enabled         bool
	LastUsedCounter int64
}

// UserStore is the credential store the engine depends on.
//
// Implementations must return [ErrUserNotFound] for unknown users and
// [ErrUserExists] on duplicate email or username.
type UserStore interface {
	limiters.AttemptStore

	CreateUser(ctx context.Context, input CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	// UpdatePassword stores a new hash together with the trimmed history
	// and stamps last_password_change.
	UpdatePassword(ctx context.Context, userID, newHash string, history []string, changedAt time.Time) error
	// UpdatePasswordHash replaces the hash in place (parameter upgrade).
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// GetTwoFactor returns nil, nil when the user has no secret.
	GetTwoFactor(ctx context.Context, userID string) (*TwoFactorRecord, error)
	// SaveTwoFactorSecret stores an unconfirmed secret and replaces any
	// backup codes with codeHashes.
	SaveTwoFactorSecret(ctx context.Context, userID, secret string, codeHashes []string) error
	EnableTwoFactor(ctx context.Context, userID string) error
	DisableTwoFactor(ctx context.Context, userID string) error
	// AdvanceTwoFactorCounter records counter as used. It returns false
	// when counter is not greater than the stored value.
	AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error)
	// ConsumeBackupCode marks the code used. It returns false when no
	// unused code with that hash exists.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
}

// PermissionSnapshot is everything the resolver needs for one member in
// one channel, read from a single consistent view of the store.
type PermissionSnapshot struct {
	OwnerID    string
	IsMember   bool
	Banned     bool
	Roles      []permission.Role
	Everyone   *permission.Role
	Overwrites []permission.Overwrite
}

// PermissionSource loads permission snapshots. ChannelID may be empty for
// server-wide checks, in which case no overwrites apply.
type PermissionSource interface {
	PermissionSnapshot(ctx context.Context, serverID, channelID, userID string) (*PermissionSnapshot, error)
}

// ResetNotifier delivers password reset tokens out of band.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user PublicUser, token string) error
}

// ResourceContext scopes an authorization check. The zero value means the
// check is identity-only.
type ResourceContext struct {
	ServerID  string
	ChannelID string
}

// Scoped reports whether the context names a server.
func (r ResourceContext) Scoped() bool {
	return r.ServerID != ""
}

// SessionContext describes the device a session is created for.
type SessionContext struct {
	IP                string
	UserAgent         string
	DeviceFingerprint string
	RememberMe        bool
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"-"`
}

// LoginRequest is the input for [Engine.Login].
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	MFACode    string
}

// LoginResult is returned by [Engine.Login]. When RequiresTwoFactor is
// true, Tokens is nil.
type LoginResult struct {
	User              PublicUser
	Tokens            *TokenPair
	RequiresTwoFactor bool
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Email         string
	Username      string
	Password      string
	TermsAccepted bool
	RememberMe    bool
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	User   PublicUser
	Tokens *TokenPair
}

// TwoFactorSetup is returned by [Engine.BeginTwoFactorSetup]. The backup
// codes are shown once and never stored in plaintext.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	BackupCodes []string `json:"backup_codes"`
}

// SessionInfo is a device-management view of one session.
type SessionInfo struct {
	ID           string    `json:"id"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	RememberMe   bool      `json:"remember_me"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Current      bool      `json:"current"`
}

// Decision is the outcome of [Engine.Authorize].
type Decision struct {
	Allowed  bool
	Identity Identity
}
