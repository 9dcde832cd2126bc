package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/limiters"
)

// BeginTwoFactorSetup generates a new TOTP secret and a fresh set of
// backup codes for userID. The secret is stored unconfirmed and does not
// gate logins until [Engine.ConfirmTwoFactorSetup] succeeds. Backup codes
// are returned once and persisted only as hashes.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if e.totp == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable(err)
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, uri, err := e.totp.Generate(user.Email)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, e.config.TwoFactor.BackupCodeCount)
	hashes := make([]string, 0, e.config.TwoFactor.BackupCodeCount)
	for len(codes) < e.config.TwoFactor.BackupCodeCount {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, internal.HashBackupCode(user.ID, internal.CanonicalBackupCode(code)))
	}

	if err := e.users.SaveTwoFactorSecret(ctx, user.ID, secret, hashes); err != nil {
		return nil, unavailable(err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"backup_codes": strconv.Itoa(len(codes))}
	})
	return &TwoFactorSetup{
		Secret:      secret,
		OTPAuthURL:  uri,
		BackupCodes: codes,
	}, nil
}

// ConfirmTwoFactorSetup activates a pending secret once the user proves
// possession with a valid code. A wrong code leaves 2FA disabled. On
// success every existing session is revoked so the user signs in again
// under the new policy.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) error {
	if e.totp == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if err := e.checkTOTPBudget(ctx, userID); err != nil {
		return err
	}

	record, err := e.users.GetTwoFactor(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	if record == nil || record.Secret == "" {
		return ErrTwoFactorNotConfigured
	}
	if record.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return e.secondFactorFailed(ctx, userID, "confirm_setup")
	}
	if _, err := e.users.AdvanceTwoFactorCounter(ctx, userID, counter); err != nil {
		return unavailable(err)
	}
	if err := e.users.EnableTwoFactor(ctx, userID); err != nil {
		return unavailable(err)
	}
	if err := e.mfaBudget.Reset(ctx, userID); err != nil {
		e.logger.Warn(ctx, "reset second factor budget", "user_id", userID, "error", err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", nil, nil)

	if _, err := e.RevokeAllUserTokens(ctx, userID, "two_factor_enabled"); err != nil {
		return err
	}
	return nil
}

// VerifySecondFactor checks a TOTP code or an unused backup code for a
// user with 2FA enabled. A backup code is consumed on success.
func (e *Engine) VerifySecondFactor(ctx context.Context, userID, code string) error {
	if e.totp == nil || e.users == nil {
		return ErrEngineNotReady
	}
	return e.verifySecondFactor(ctx, userID, code)
}

func (e *Engine) verifySecondFactor(ctx context.Context, userID, code string) error {
	if err := e.checkTOTPBudget(ctx, userID); err != nil {
		return err
	}

	record, err := e.users.GetTwoFactor(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	if record == nil || !record.Enabled || record.Secret == "" {
		return e.secondFactorFailed(ctx, userID, "not_configured")
	}

	code = strings.TrimSpace(code)
	if len(code) == e.config.TwoFactor.Digits && isNumericString(code) {
		return e.verifyTOTP(ctx, userID, record, code)
	}
	return e.consumeBackupCode(ctx, userID, code)
}

func (e *Engine) verifyTOTP(ctx context.Context, userID string, record *TwoFactorRecord, code string) error {
	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return e.secondFactorFailed(ctx, userID, "totp_mismatch")
	}

	if e.config.TwoFactor.EnforceReplayProtection {
		advanced, err := e.users.AdvanceTwoFactorCounter(ctx, userID, counter)
		if err != nil {
			return unavailable(err)
		}
		if !advanced {
			e.metricInc(MetricTwoFactorReplay)
			return e.secondFactorFailed(ctx, userID, "totp_replay")
		}
	}

	e.secondFactorSucceeded(ctx, userID, "totp")
	return nil
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) error {
	canonical := internal.CanonicalBackupCode(code)
	if canonical == "" {
		return e.secondFactorFailed(ctx, userID, "malformed_code")
	}
	consumed, err := e.users.ConsumeBackupCode(ctx, userID, internal.HashBackupCode(userID, canonical))
	if err != nil {
		return unavailable(err)
	}
	if !consumed {
		return e.secondFactorFailed(ctx, userID, "backup_code_mismatch")
	}

	e.metricInc(MetricBackupCodeUsed)
	e.secondFactorSucceeded(ctx, userID, "backup_code")
	return nil
}

func (e *Engine) checkTOTPBudget(ctx context.Context, userID string) error {
	state, err := e.mfaBudget.Check(ctx, userID)
	if errors.Is(err, limiters.ErrBudgetExhausted) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", ErrRateLimited, func() map[string]string {
			return map[string]string{"retry_after": state.RetryAfter.Round(time.Second).String()}
		})
		return ErrRateLimited
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (e *Engine) secondFactorFailed(ctx context.Context, userID, reason string) error {
	if _, err := e.mfaBudget.Spend(ctx, userID); err != nil && !errors.Is(err, limiters.ErrBudgetExhausted) {
		e.logger.Warn(ctx, "record second factor failure", "user_id", userID, "error", err)
	}
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", ErrInvalidMFACode, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidMFACode
}

func (e *Engine) secondFactorSucceeded(ctx context.Context, userID, method string) {
	if err := e.mfaBudget.Reset(ctx, userID); err != nil {
		e.logger.Warn(ctx, "reset second factor budget", "user_id", userID, "error", err)
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, userID, "", nil, func() map[string]string {
		return map[string]string{"method": method}
	})
}

// DisableTwoFactor removes the secret and every backup code after the user
// re-confirms their password.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, currentPassword string) error {
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
	ok, err := e.passwordHash.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.users.DisableTwoFactor(ctx, userID); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", nil, nil)
	return nil
}
