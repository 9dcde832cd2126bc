package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"regexp"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
	"go.opentelemetry.io/otel/attribute"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,32}$`)

// allow applies the fixed-window limit of action and maps its errors to
// engine errors.
func (e *Engine) allow(ctx context.Context, action rate.Action, identifier string) error {
	if err := e.rateLimiter.Allow(ctx, action, identifier, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
				return map[string]string{"scope": string(action)}
			})
			return ErrRateLimited
		}
		return unavailable(err)
	}
	return nil
}

func (e *Engine) validatePassword(v *ValidationError, field, plaintext string) {
	switch {
	case len(plaintext) < e.config.Password.MinLength:
		v.add(field, "too_short")
	case e.config.Password.MaxPasswordBytes > 0 && len(plaintext) > e.config.Password.MaxPasswordBytes:
		v.add(field, "too_long")
	}
}

// Register creates an account and signs it in. Duplicate email or
// username returns [ErrUserExists]; rejected input returns a
// [*ValidationError].
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (result *RegisterResult, err error) {
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	if e.users == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if err := e.allow(ctx, rate.ActionRegister, email); err != nil {
		return nil, err
	}

	v := &ValidationError{}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		v.add("email", "invalid")
	}
	if !usernamePattern.MatchString(req.Username) {
		v.add("username", "invalid")
	}
	e.validatePassword(v, "password", req.Password)
	if !req.TermsAccepted {
		v.add("terms_accepted", "required")
	}
	if err := v.errOrNil(); err != nil {
		return nil, err
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", "", ErrUserExists, nil)
			return nil, ErrUserExists
		}
		return nil, unavailable(err)
	}
	span.SetAttributes(attribute.String("authcore.user_id", user.ID))

	pair, err := e.IssuePair(ctx, user.ID, SessionContext{
		IP:                clientIPFromContext(ctx),
		UserAgent:         userAgentFromContext(ctx),
		DeviceFingerprint: deviceFromContext(ctx),
		RememberMe:        req.RememberMe,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, user.ID, pair.SessionID, nil, nil)
	return &RegisterResult{User: user.Public(), Tokens: pair}, nil
}

// ChangePassword replaces the password of userID after verifying the
// current one. The new password may not match the current hash or any
// hash kept in history. Every session is revoked on success.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if e.users == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return unavailable(err)
	}

	ok, err := e.passwordHash.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, user.ID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.setPassword(ctx, user, next, "new_password"); err != nil {
		if errors.Is(err, ErrPasswordReuse) {
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, user.ID, "", err, nil)
		}
		return err
	}

	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, user.ID, "", nil, nil)
	_, err = e.RevokeAllUserTokens(ctx, user.ID, "password_change")
	return err
}

// setPassword validates next, enforces the reuse policy and stores the new
// hash with the previous one pushed into history.
func (e *Engine) setPassword(ctx context.Context, user User, next, field string) error {
	v := &ValidationError{}
	e.validatePassword(v, field, next)
	if err := v.errOrNil(); err != nil {
		return err
	}

	if e.passwordReused(user, next) {
		e.metricInc(MetricPasswordReuseRejected)
		return ErrPasswordReuse
	}

	hash, err := e.passwordHash.Hash(next)
	if err != nil {
		return err
	}
	history := password.PushHistory(user.PasswordHistory, user.PasswordHash, e.config.Password.HistorySize)
	if err := e.users.UpdatePassword(ctx, user.ID, hash, history, time.Now().UTC()); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricPasswordChanged)
	return nil
}

func (e *Engine) passwordReused(user User, candidate string) bool {
	hashes := make([]string, 0, len(user.PasswordHistory)+1)
	hashes = append(hashes, user.PasswordHash)
	if e.config.Password.HistorySize > 0 {
		limit := len(user.PasswordHistory)
		if limit > e.config.Password.HistorySize {
			limit = e.config.Password.HistorySize
		}
		hashes = append(hashes, user.PasswordHistory[:limit]...)
	}
	return password.MatchesAny(e.passwordHash, candidate, hashes...)
}

// ForgotPassword starts a reset for email. It succeeds whether or not the
// account exists; only rate limiting is reported to the caller. The reset
// token is handed to the configured [ResetNotifier].
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if e.users == nil || e.resetStore == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if err := e.allow(ctx, rate.ActionForgot, email); err != nil {
		return err
	}
	if !e.config.PasswordReset.Enabled || email == "" {
		return nil
	}

	e.metricInc(MetricPasswordResetRequested)
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			e.logger.Error(ctx, "forgot password lookup", "error", err)
		}
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", err, nil)
		return nil
	}

	token, err := e.newResetToken(ctx, user.ID)
	if err != nil {
		e.logger.Error(ctx, "create password reset", "user_id", user.ID, "error", err)
		return nil
	}
	if e.notifier == nil {
		e.logger.Warn(ctx, "password reset requested without a notifier", "user_id", user.ID)
	} else if err := e.notifier.SendPasswordReset(ctx, user.Public(), token); err != nil {
		e.logger.Error(ctx, "deliver password reset", "user_id", user.ID, "error", err)
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, "", nil, nil)
	return nil
}

func (e *Engine) newResetToken(ctx context.Context, userID string) (string, error) {
	rid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewResetSecret()
	if err != nil {
		return "", err
	}
	resetID := rid.String()

	ttl := e.config.PasswordReset.TTL
	record := &stores.PasswordResetRecord{
		UserID:     userID,
		SecretHash: internal.HashResetSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	if err := e.resetStore.Save(ctx, resetID, record, ttl); err != nil {
		return "", err
	}
	return internal.EncodeResetToken(resetID, secret)
}

// ResetPassword completes a reset. The token is single use and allows a
// bounded number of wrong secrets. On success the lockout counter is
// cleared and every session revoked. A password that violates the reuse
// policy is rejected without burning the token.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e.users == nil || e.resetStore == nil {
		return ErrEngineNotReady
	}
	resetID, secret, err := internal.DecodeResetToken(token)
	if err != nil {
		return ErrResetTokenInvalid
	}
	if err := e.allow(ctx, rate.ActionReset, resetID); err != nil {
		return err
	}

	v := &ValidationError{}
	e.validatePassword(v, "new_password", newPassword)
	if err := v.errOrNil(); err != nil {
		return err
	}

	hash := internal.HashResetSecret(secret)
	pending, err := e.resetStore.Get(ctx, resetID)
	if err != nil {
		return e.resetFailed(ctx, err)
	}
	if subtle.ConstantTimeCompare(pending.SecretHash[:], hash[:]) == 1 {
		user, err := e.users.GetUserByID(ctx, pending.UserID)
		if err != nil {
			return unavailable(err)
		}
		if e.passwordReused(user, newPassword) {
			e.metricInc(MetricPasswordReuseRejected)
			return ErrPasswordReuse
		}
	}

	record, err := e.resetStore.Consume(ctx, resetID, hash, e.config.PasswordReset.MaxAttempts)
	if err != nil {
		return e.resetFailed(ctx, err)
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return unavailable(err)
	}
	if err := e.setPassword(ctx, user, newPassword, "new_password"); err != nil {
		return err
	}
	if err := e.loginGuard.RecordSuccess(ctx, user.ID); err != nil {
		e.logger.Warn(ctx, "clear lockout after reset", "user_id", user.ID, "error", err)
	}

	e.metricInc(MetricPasswordResetCompleted)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, user.ID, "", nil, nil)
	_, err = e.RevokeAllUserTokens(ctx, user.ID, "password_reset")
	return err
}

func (e *Engine) resetFailed(ctx context.Context, err error) error {
	if errors.Is(err, stores.ErrResetRedisUnavailable) {
		return unavailable(err)
	}
	e.metricInc(MetricPasswordResetFailed)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrResetTokenInvalid, func() map[string]string {
		switch {
		case errors.Is(err, stores.ErrResetAttemptsExceeded):
			return map[string]string{"reason": "attempts_exceeded"}
		case errors.Is(err, stores.ErrResetSecretMismatch):
			return map[string]string{"reason": "secret_mismatch"}
		default:
			return map[string]string{"reason": "not_found"}
		}
	})
	return ErrResetTokenInvalid
}
