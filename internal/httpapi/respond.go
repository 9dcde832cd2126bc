package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error      string                `json:"error"`
	Fields     []authcore.FieldError `json:"fields,omitempty"`
	RetryAfter int64                 `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeEngineError maps engine errors onto status codes. Anything it does
// not recognise is logged and reported as a 500 without detail.
func writeEngineError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	var locked *authcore.LockedError
	if errors.As(err, &locked) {
		secs := locked.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		writeJSON(w, http.StatusLocked, errorResponse{Error: "account_locked", RetryAfter: secs})
		return
	}

	var invalid *authcore.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation_failed", Fields: invalid.Fields})
		return
	}

	switch {
	case errors.Is(err, authcore.ErrBackendUnavailable):
		logger.Error(ctx, "backend unavailable", "err", err)
		respondWithError(w, http.StatusServiceUnavailable, "service_unavailable")
	case errors.Is(err, authcore.ErrRateLimited):
		respondWithError(w, http.StatusTooManyRequests, "rate_limited")
	case errors.Is(err, authcore.ErrUserExists):
		respondWithError(w, http.StatusConflict, "user_exists")
	case errors.Is(err, authcore.ErrSessionLimitExceeded):
		respondWithError(w, http.StatusConflict, "session_limit_exceeded")
	case errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled):
		respondWithError(w, http.StatusConflict, "two_factor_already_enabled")
	case errors.Is(err, authcore.ErrTwoFactorNotConfigured):
		respondWithError(w, http.StatusBadRequest, "two_factor_not_configured")
	case errors.Is(err, authcore.ErrPasswordReuse):
		respondWithError(w, http.StatusUnprocessableEntity, "password_reuse")
	case errors.Is(err, authcore.ErrValidationFailed):
		respondWithError(w, http.StatusUnprocessableEntity, "validation_failed")
	case errors.Is(err, authcore.ErrResetTokenInvalid):
		respondWithError(w, http.StatusBadRequest, "invalid_reset_token")
	case errors.Is(err, authcore.ErrInvalidMFACode):
		respondWithError(w, http.StatusUnauthorized, "invalid_mfa_code")
	case errors.Is(err, authcore.ErrInsufficientPermissions):
		respondWithError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrUserNotFound):
		respondWithError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenRevoked),
		errors.Is(err, authcore.ErrTokenInvalid),
		errors.Is(err, authcore.ErrTokenReuseDetected):
		// Reuse is reported like any other bad token.
		respondWithError(w, http.StatusUnauthorized, "invalid_token")
	default:
		logger.Error(ctx, "request failed", "err", err)
		respondWithError(w, http.StatusInternalServerError, "internal_error")
	}
}
