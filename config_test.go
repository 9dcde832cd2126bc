package authcore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigNeedsKeysOnly(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing keys to fail validation")
	}
	cfg = testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config must validate: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"access ttl", func(c *Config) { c.JWT.AccessTTL = 0 }, "AccessTTL"},
		{"remember me shorter", func(c *Config) { c.JWT.RememberMeRefreshTTL = time.Hour }, "RememberMeRefreshTTL"},
		{"signing method", func(c *Config) { c.JWT.SigningMethod = "rs256" }, "signing method"},
		{"short hs256 secret", func(c *Config) {
			c.JWT.SigningMethod = "hs256"
			c.JWT.PrivateKey = []byte("too-short")
		}, "hs256"},
		{"same prefixes", func(c *Config) { c.Session.BlacklistPrefix = c.Session.RedisPrefix }, "must differ"},
		{"index ttl", func(c *Config) { c.Session.IndexTTL = time.Hour }, "IndexTTL"},
		{"lockout threshold", func(c *Config) { c.Lockout.Threshold = 0 }, "Threshold"},
		{"lockout multiplier", func(c *Config) { c.Lockout.Multiplier = 0.5 }, "Multiplier"},
		{"lockout max", func(c *Config) { c.Lockout.MaxDuration = time.Minute }, "MaxDuration"},
		{"rate window", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.LoginWindow = 0
		}, "LoginWindow"},
		{"argon memory", func(c *Config) { c.Password.Memory = 1024 }, "Memory"},
		{"min length", func(c *Config) { c.Password.MinLength = 6 }, "MinLength"},
		{"history", func(c *Config) { c.Password.HistorySize = 30 }, "HistorySize"},
		{"digits", func(c *Config) { c.TwoFactor.Digits = 7 }, "Digits"},
		{"skew", func(c *Config) { c.TwoFactor.Skew = 3 }, "Skew"},
		{"algorithm", func(c *Config) { c.TwoFactor.Algorithm = "MD5" }, "Algorithm"},
		{"cache ttl", func(c *Config) {
			c.Permission.CacheEnabled = true
			c.Permission.CacheTTL = 0
		}, "CacheTTL"},
		{"validation mode", func(c *Config) { c.ValidationMode = ValidationMode(9) }, "ValidationMode"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestProductionModeTightensLimits(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProductionMode = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("weak argon parameters must fail in production mode")
	}

	cfg = testConfig(t)
	cfg.Password = DefaultConfig().Password
	cfg.ProductionMode = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must satisfy production mode: %v", err)
	}

	cfg.ValidationMode = ModeJWTOnly
	if err := cfg.Validate(); err == nil {
		t.Fatal("jwt-only validation must fail in production mode")
	}
}

func TestValidationModeText(t *testing.T) {
	var m ValidationMode
	if err := m.UnmarshalText([]byte(" Strict ")); err != nil || m != ModeStrict {
		t.Fatalf("expected strict, got %v %v", m, err)
	}
	if err := m.UnmarshalText([]byte("jwt-only")); err != nil || m != ModeJWTOnly {
		t.Fatalf("expected jwt_only, got %v %v", m, err)
	}
	if err := m.UnmarshalText([]byte("loose")); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
	if ModeStrict.String() != "strict" {
		t.Fatalf("unexpected String %q", ModeStrict.String())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "secret")
	secret := strings.Repeat("k", 48)
	if err := os.WriteFile(keyPath, []byte(secret), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	t.Setenv("AUTHCORE_JWT_SIGNING_METHOD", "hs256")
	t.Setenv("AUTHCORE_JWT_PRIVATE_KEY_FILE", keyPath)
	t.Setenv("AUTHCORE_JWT_ACCESS_TTL", "5m")
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "7")
	t.Setenv("AUTHCORE_RATE_ENABLED", "false")
	t.Setenv("AUTHCORE_2FA_ISSUER", "Example")
	t.Setenv("AUTHCORE_VALIDATION_MODE", "jwt_only")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.SigningMethod != "hs256" || string(cfg.JWT.PrivateKey) != secret {
		t.Fatalf("unexpected JWT config %+v", cfg.JWT)
	}
	if cfg.JWT.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %v", cfg.JWT.AccessTTL)
	}
	if cfg.Lockout.Threshold != 7 || cfg.Lockout.BaseDuration != 15*time.Minute {
		t.Fatalf("expected threshold override on top of defaults, got %+v", cfg.Lockout)
	}
	if cfg.RateLimit.Enabled || cfg.TwoFactor.Issuer != "Example" || cfg.ValidationMode != ModeJWTOnly {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env config must validate: %v", err)
	}
}

func TestLoadConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "many")
	if _, err := LoadConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
