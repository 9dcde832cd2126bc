package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full engine configuration. Build a Config with
// DefaultConfig or LoadConfigFromEnv, adjust it, and pass it to
// Builder.WithConfig. It is treated as immutable once the engine is built.
type Config struct {
	JWT            JWTConfig           `envPrefix:"AUTHCORE_JWT_"`
	Session        SessionConfig       `envPrefix:"AUTHCORE_SESSION_"`
	Lockout        LockoutConfig       `envPrefix:"AUTHCORE_LOCKOUT_"`
	RateLimit      RateLimitConfig     `envPrefix:"AUTHCORE_RATE_"`
	Password       PasswordConfig      `envPrefix:"AUTHCORE_PASSWORD_"`
	PasswordReset  PasswordResetConfig `envPrefix:"AUTHCORE_RESET_"`
	TwoFactor      TwoFactorConfig     `envPrefix:"AUTHCORE_2FA_"`
	Permission     PermissionConfig    `envPrefix:"AUTHCORE_PERMISSION_"`
	Audit          AuditConfig         `envPrefix:"AUTHCORE_AUDIT_"`
	Metrics        MetricsConfig       `envPrefix:"AUTHCORE_METRICS_"`
	ProductionMode bool                `env:"AUTHCORE_PRODUCTION_MODE"`
	ValidationMode ValidationMode      `env:"AUTHCORE_VALIDATION_MODE"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL            time.Duration `env:"ACCESS_TTL"`
	RefreshTTL           time.Duration `env:"REFRESH_TTL"`
	RememberMeRefreshTTL time.Duration `env:"REMEMBER_ME_REFRESH_TTL"`
	SigningMethod        string        `env:"SIGNING_METHOD"` // "ed25519" (default) or "hs256"
	PrivateKey           []byte        `env:"PRIVATE_KEY_FILE,file"`
	PublicKey            []byte        `env:"PUBLIC_KEY_FILE,file"`
	Issuer               string        `env:"ISSUER"`
	Audience             string        `env:"AUDIENCE"`
	Leeway               time.Duration `env:"LEEWAY"`
	KeyID                string        `env:"KEY_ID"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis session registry and the blacklist.
type SessionConfig struct {
	RedisPrefix     string `env:"REDIS_PREFIX"`
	BlacklistPrefix string `env:"BLACKLIST_PREFIX"`
	// IndexTTL bounds the lifetime of the per-user session index. It must
	// cover the longest refresh lifetime.
	IndexTTL time.Duration `env:"INDEX_TTL"`
	// MaxPerUser caps live sessions per user; zero means no cap.
	MaxPerUser int `env:"MAX_PER_USER"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the progressive lockout policy. The n-th lockout
// inside EscalationWindow (counted from the most recent lockout) lasts
// BaseDuration * Multiplier^(n-1), capped at MaxDuration.
type LockoutConfig struct {
	Enabled          bool          `env:"ENABLED"`
	Threshold        int           `env:"THRESHOLD"`
	BaseDuration     time.Duration `env:"BASE_DURATION"`
	Multiplier       float64       `env:"MULTIPLIER"`
	EscalationWindow time.Duration `env:"ESCALATION_WINDOW"`
	MaxDuration      time.Duration `env:"MAX_DURATION"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sets fixed-window limits per endpoint. A zero attempt
// count disables that endpoint's limit.
type RateLimitConfig struct {
	Enabled             bool          `env:"ENABLED"`
	LoginMaxAttempts    int           `env:"LOGIN_MAX"`
	LoginWindow         time.Duration `env:"LOGIN_WINDOW"`
	RegisterMaxAttempts int           `env:"REGISTER_MAX"`
	RegisterWindow      time.Duration `env:"REGISTER_WINDOW"`
	ForgotMaxAttempts   int           `env:"FORGOT_MAX"`
	ForgotWindow        time.Duration `env:"FORGOT_WINDOW"`
	ResetMaxAttempts    int           `env:"RESET_MAX"`
	ResetWindow         time.Duration `env:"RESET_WINDOW"`
	RefreshMaxAttempts  int           `env:"REFRESH_MAX"`
	RefreshWindow       time.Duration `env:"REFRESH_WINDOW"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters and password policy.
type PasswordConfig struct {
	Memory           uint32 `env:"MEMORY_KB"`
	Time             uint32 `env:"TIME"`
	Parallelism      uint8  `env:"PARALLELISM"`
	SaltLength       uint32 `env:"SALT_LENGTH"`
	KeyLength        uint32 `env:"KEY_LENGTH"`
	MaxPasswordBytes int    `env:"MAX_BYTES"`
	MinLength        int    `env:"MIN_LENGTH"`
	HistorySize      int    `env:"HISTORY_SIZE"`
	UpgradeOnLogin   bool   `env:"UPGRADE_ON_LOGIN"`
}

// PasswordResetConfig controls the forgot/reset flow.
type PasswordResetConfig struct {
	Enabled     bool          `env:"ENABLED"`
	TTL         time.Duration `env:"TTL"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	RedisPrefix string        `env:"REDIS_PREFIX"`
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP generation and verification.
type TwoFactorConfig struct {
	Issuer                  string        `env:"ISSUER"`
	Digits                  int           `env:"DIGITS"`
	Period                  int           `env:"PERIOD"`
	Algorithm               string        `env:"ALGORITHM"`
	Skew                    int           `env:"SKEW"`
	BackupCodeCount         int           `env:"BACKUP_CODES"`
	MaxAttempts             int           `env:"MAX_ATTEMPTS"`
	Cooldown                time.Duration `env:"COOLDOWN"`
	EnforceReplayProtection bool          `env:"REPLAY_PROTECTION"`
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig controls the authorization gate.
type PermissionConfig struct {
	CacheEnabled bool          `env:"CACHE_ENABLED"`
	CacheTTL     time.Duration `env:"CACHE_TTL"`
	CacheMaxCost int64         `env:"CACHE_MAX_COST"`
	// SnapshotTimeout bounds the store read when the caller's context has
	// no earlier deadline.
	SnapshotTimeout time.Duration `env:"SNAPSHOT_TIMEOUT"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool          `env:"ENABLED"`
	BufferSize  int           `env:"BUFFER_SIZE"`
	DropIfFull  bool          `env:"DROP_IF_FULL"`
	SinkTimeout time.Duration `env:"SINK_TIMEOUT"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY"`
}

/*
====================================
VALIDATION MODE
====================================
*/

// ValidationMode selects how much state VerifyAccess consults beyond the
// token signature. The blacklist is checked in every mode.
type ValidationMode int

const (
	// ModeJWTOnly trusts a valid, non-blacklisted token until it expires.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict also requires the token's session to still exist, so
	// logout-all and reuse revocation take effect immediately.
	ModeStrict
)

func (m ValidationMode) String() string {
	switch m {
	case ModeJWTOnly:
		return "jwt_only"
	case ModeStrict:
		return "strict"
	default:
		return fmt.Sprintf("ValidationMode(%d)", int(m))
	}
}

// UnmarshalText accepts "strict" or "jwt_only".
func (m *ValidationMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "strict":
		*m = ModeStrict
	case "jwt_only", "jwt-only", "jwtonly":
		*m = ModeJWTOnly
	default:
		return fmt.Errorf("unknown validation mode %q", string(text))
	}
	return nil
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Signing keys must still
// be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			RememberMeRefreshTTL: 30 * 24 * time.Hour,
			SigningMethod:        "ed25519",
			Issuer:               "authcore",
			Audience:             "authcore-clients",
		},
		Session: SessionConfig{
			RedisPrefix:     "as",
			BlacklistPrefix: "abl",
			IndexTTL:        31 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Enabled:          true,
			Threshold:        5,
			BaseDuration:     15 * time.Minute,
			Multiplier:       2,
			EscalationWindow: 24 * time.Hour,
			MaxDuration:      24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			LoginMaxAttempts:    20,
			LoginWindow:         15 * time.Minute,
			RegisterMaxAttempts: 5,
			RegisterWindow:      time.Hour,
			ForgotMaxAttempts:   5,
			ForgotWindow:        time.Hour,
			ResetMaxAttempts:    10,
			ResetWindow:         time.Hour,
			RefreshMaxAttempts:  60,
			RefreshWindow:       time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			HistorySize:    5,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			TTL:         30 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "apr",
		},
		TwoFactor: TwoFactorConfig{
			Issuer:                  "authcore",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			BackupCodeCount:         10,
			MaxAttempts:             5,
			Cooldown:                5 * time.Minute,
			EnforceReplayProtection: true,
		},
		Permission: PermissionConfig{
			CacheEnabled:    true,
			CacheTTL:        30 * time.Second,
			CacheMaxCost:    1 << 20,
			SnapshotTimeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		ValidationMode: ModeStrict,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RememberMeRefreshTTL < c.JWT.RefreshTTL {
		return errors.New("JWT RememberMeRefreshTTL must be >= RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if c.Session.RedisPrefix == "" || c.Session.BlacklistPrefix == "" {
		return errors.New("Session RedisPrefix and BlacklistPrefix are required")
	}
	if c.Session.RedisPrefix == c.Session.BlacklistPrefix {
		return errors.New("Session RedisPrefix and BlacklistPrefix must differ")
	}
	if c.Session.MaxPerUser < 0 {
		return errors.New("Session MaxPerUser must be >= 0")
	}
	if c.Session.IndexTTL < c.JWT.RememberMeRefreshTTL {
		return errors.New("Session IndexTTL must cover RememberMeRefreshTTL")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.BaseDuration <= 0 {
			return errors.New("Lockout BaseDuration must be > 0")
		}
		if c.Lockout.Multiplier < 1 {
			return errors.New("Lockout Multiplier must be >= 1")
		}
		if c.Lockout.EscalationWindow < 0 {
			return errors.New("Lockout EscalationWindow must be >= 0")
		}
		if c.Lockout.MaxDuration < c.Lockout.BaseDuration {
			return errors.New("Lockout MaxDuration must be >= BaseDuration")
		}
	}

	// Rate limits
	if c.RateLimit.Enabled {
		pairs := []struct {
			name   string
			max    int
			window time.Duration
		}{
			{"Login", c.RateLimit.LoginMaxAttempts, c.RateLimit.LoginWindow},
			{"Register", c.RateLimit.RegisterMaxAttempts, c.RateLimit.RegisterWindow},
			{"Forgot", c.RateLimit.ForgotMaxAttempts, c.RateLimit.ForgotWindow},
			{"Reset", c.RateLimit.ResetMaxAttempts, c.RateLimit.ResetWindow},
			{"Refresh", c.RateLimit.RefreshMaxAttempts, c.RateLimit.RefreshWindow},
		}
		for _, p := range pairs {
			if p.max < 0 {
				return fmt.Errorf("RateLimit %sMaxAttempts must be >= 0", p.name)
			}
			if p.max > 0 && p.window <= 0 {
				return fmt.Errorf("RateLimit %sWindow must be > 0", p.name)
			}
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 10 {
		return errors.New("Password MinLength must be >= 10")
	}
	if c.Password.HistorySize < 0 || c.Password.HistorySize > 24 {
		return errors.New("Password HistorySize must be between 0 and 24")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TTL <= 0 {
			return errors.New("PasswordReset TTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
	}

	// Two factor
	if c.TwoFactor.Issuer == "" {
		return errors.New("TwoFactor Issuer is required")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period < 15 {
		return errors.New("TwoFactor Period must be >= 15 seconds")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be between 0 and 2")
	}
	if c.TwoFactor.BackupCodeCount <= 0 {
		return errors.New("TwoFactor BackupCodeCount must be > 0")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Permission
	if c.Permission.CacheEnabled && c.Permission.CacheTTL <= 0 {
		return errors.New("Permission CacheTTL must be > 0 when the cache is enabled")
	}
	if c.Permission.SnapshotTimeout < 0 {
		return errors.New("Permission SnapshotTimeout must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeStrict:
	default:
		return errors.New("invalid ValidationMode")
	}

	if c.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RememberMeRefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires refresh lifetimes <= 30d")
		}
		if c.Password.Memory < 64*1024 || c.Password.Time < 2 {
			return errors.New("ProductionMode requires Argon2 memory >= 64MiB and time >= 2")
		}
		if !c.Lockout.Enabled {
			return errors.New("ProductionMode requires Lockout")
		}
		if !c.TwoFactor.EnforceReplayProtection {
			return errors.New("ProductionMode requires TwoFactor replay protection")
		}
		if c.ValidationMode != ModeStrict {
			return errors.New("ProductionMode requires strict validation")
		}
	}

	return nil
}
