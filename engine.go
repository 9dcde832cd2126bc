package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/permcache"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrEthical07/authcore"

// Engine is the auth core. It is safe for concurrent use once built and
// holds no package-level state; every backend is injected by [Builder].
type Engine struct {
	config Config

	users       UserStore
	permissions PermissionSource
	notifier    ResetNotifier
	registry    *permission.Registry

	redis        redis.UniversalClient
	sessionStore *session.Store
	blacklist    *stores.Blacklist
	resetStore   *stores.PasswordResetStore
	rateLimiter  *rate.Limiter
	loginGuard   *limiters.LoginGuard
	mfaBudget    *limiters.AttemptBudget
	permCache    *permcache.Cache

	passwordHash *password.Argon2
	totp         *totpManager
	jwtManager   *jwt.Manager

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  logging.Logger
	tracer  trace.Tracer
}

// Close flushes the audit dispatcher and releases the permission cache.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	e.permCache.Close()
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditStats reports audit delivery counters and the current queue depth.
func (e *Engine) AuditStats() AuditStats {
	if e == nil {
		return AuditStats{}
	}
	return e.audit.Stats()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Registry returns the frozen capability catalog.
func (e *Engine) Registry() *permission.Registry {
	return e.registry
}

// Ping checks the Redis backend.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.sessionStore.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authcore."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span unless it is an expected outcome such as a
// wrong password.
func endSpan(span trace.Span, err error) {
	if err != nil && errors.Is(err, ErrBackendUnavailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates a password (and, when enrolled, a second factor) and
// issues a token pair. When the account has 2FA enabled and req.MFACode is
// empty, the result has RequiresTwoFactor set and carries no tokens.
//
// Failures are generic: unknown email and wrong password both return
// [ErrInvalidCredentials]. A locked account returns a [*LockedError].
func (e *Engine) Login(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := e.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()

	if e.passwordHash == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.Allow(ctx, rate.ActionLogin, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrRateLimited
		}
		return nil, unavailable(err)
	}

	if email == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "empty_credentials"}
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"identifier": email, "reason": "user_not_found"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable(err)
	}
	span.SetAttributes(attribute.String("authcore.user_id", user.ID))

	if remaining := e.loginGuard.Check(user.LockedUntil); remaining > 0 {
		locked := &LockedError{RetryAfter: remaining}
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", locked, func() map[string]string {
			return map[string]string{"reason": "account_locked"}
		})
		return nil, locked
	}

	ok, err := e.passwordHash.Verify(req.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordLoginFailure(ctx, user.ID)
	}

	if user.TwoFactorEnabled {
		if strings.TrimSpace(req.MFACode) == "" {
			e.metricInc(MetricTwoFactorRequired)
			e.emitAudit(ctx, auditEventMFARequired, false, user.ID, "", ErrMFARequired, nil)
			return &LoginResult{User: user.Public(), RequiresTwoFactor: true}, nil
		}
		if err := e.verifySecondFactor(ctx, user.ID, req.MFACode); err != nil {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", err, func() map[string]string {
				return map[string]string{"reason": "second_factor"}
			})
			return nil, err
		}
	}

	if err := e.loginGuard.RecordSuccess(ctx, user.ID); err != nil {
		e.logger.Warn(ctx, "reset failed login counter", "user_id", user.ID, "error", err)
	}
	if err := e.rateLimiter.Reset(ctx, rate.ActionLogin, email); err != nil {
		e.logger.Warn(ctx, "reset login rate window", "error", err)
	}
	e.upgradePasswordHash(ctx, user, req.Password)

	pair, err := e.IssuePair(ctx, user.ID, SessionContext{
		IP:                ip,
		UserAgent:         userAgentFromContext(ctx),
		DeviceFingerprint: deviceFromContext(ctx),
		RememberMe:        req.RememberMe,
	})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "issue_pair"}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, pair.SessionID, nil, func() map[string]string {
		if req.RememberMe {
			return map[string]string{"remember_me": "true"}
		}
		return nil
	})

	return &LoginResult{User: user.Public(), Tokens: pair}, nil
}

// recordLoginFailure counts a wrong password and returns the error the
// caller should see: a [*LockedError] if this attempt tripped the lock.
func (e *Engine) recordLoginFailure(ctx context.Context, userID string) error {
	decision, err := e.loginGuard.RecordFailure(ctx, userID)
	if err != nil {
		e.logger.Error(ctx, "record failed login", "user_id", userID, "error", err)
		return unavailable(err)
	}
	if decision.EscalationErr != nil {
		e.logger.Warn(ctx, "lockout escalation unavailable, using base duration", "user_id", userID, "error", decision.EscalationErr)
	}

	e.metricInc(MetricLoginFailure)
	if !decision.Locked {
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "password_mismatch"}
		})
		return ErrInvalidCredentials
	}

	e.metricInc(MetricLockoutTriggered)
	locked := &LockedError{RetryAfter: time.Until(decision.Until)}
	e.emitAudit(ctx, auditEventAccountLocked, false, userID, "", locked, func() map[string]string {
		return map[string]string{
			"until":      decision.Until.UTC().Format(time.RFC3339),
			"escalation": strconv.Itoa(decision.Escalation),
		}
	})
	return locked
}

// upgradePasswordHash re-hashes legacy or weaker hashes after a verified
// login. Failures are logged and never block the login.
func (e *Engine) upgradePasswordHash(ctx context.Context, user User, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		e.logger.Warn(ctx, "password hash upgrade generation failed", "user_id", user.ID, "error", err)
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		e.logger.Warn(ctx, "password hash upgrade update failed", "user_id", user.ID, "error", err)
		return
	}
	e.metricInc(MetricPasswordUpgraded)
}
