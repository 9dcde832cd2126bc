package authcore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/session"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

const tokenTypeBearer = "Bearer"

// IssuePair creates a new session for userID and returns its first token
// pair. The refresh token is bound to refresh version 1 and the session
// expires together with it.
func (e *Engine) IssuePair(ctx context.Context, userID string, sc SessionContext) (*TokenPair, error) {
	if e.jwtManager == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrTokenInvalid
	}

	if limit := e.config.Session.MaxPerUser; limit > 0 {
		n, err := e.sessionStore.Count(ctx, userID)
		if err != nil {
			return nil, unavailable(err)
		}
		if n >= limit {
			// The index can hold expired ids; List prunes them.
			live, err := e.sessionStore.List(ctx, userID)
			if err != nil {
				return nil, unavailable(err)
			}
			if len(live) >= limit {
				return nil, ErrSessionLimitExceeded
			}
		}
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	lifetime := e.config.JWT.RefreshTTL
	if sc.RememberMe {
		lifetime = e.config.JWT.RememberMeRefreshTTL
	}
	now := time.Now()
	sess := &session.Session{
		ID:                sessionID,
		UserID:            userID,
		DeviceFingerprint: internal.DeviceFingerprint(sc.DeviceFingerprint, sc.UserAgent),
		IP:                sc.IP,
		UserAgent:         sc.UserAgent,
		RefreshVersion:    1,
		RememberMe:        sc.RememberMe,
		CreatedAt:         now,
		ExpiresAt:         now.Add(lifetime),
		LastActivity:      now,
	}
	if err := e.sessionStore.Create(ctx, sess); err != nil {
		return nil, unavailable(err)
	}

	pair, err := e.mintPair(userID, sessionID, sess.RefreshVersion, sess.ExpiresAt)
	if err != nil {
		if _, delErr := e.sessionStore.Invalidate(ctx, sessionID); delErr != nil {
			e.logger.Warn(ctx, "discard session after signing failure", "session_id", sessionID, "error", delErr)
		}
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	return pair, nil
}

// mintPair signs an access token and a refresh token at version that
// expires at sessionExpiry.
func (e *Engine) mintPair(userID, sessionID string, version uint64, sessionExpiry time.Time) (*TokenPair, error) {
	accessID, err := internal.NewTokenID()
	if err != nil {
		return nil, err
	}
	refreshID, err := internal.NewTokenID()
	if err != nil {
		return nil, err
	}

	access, accessExp, err := e.jwtManager.CreateAccess(userID, sessionID, accessID)
	if err != nil {
		return nil, err
	}
	ttl := time.Until(sessionExpiry)
	if ttl <= 0 {
		return nil, ErrTokenExpired
	}
	refresh, refreshExp, err := e.jwtManager.CreateRefresh(userID, sessionID, refreshID, version, ttl)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        tokenTypeBearer,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        sessionID,
	}, nil
}

func tokenError(err error) error {
	if errors.Is(err, gjwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

// VerifyAccess checks signature, expiry, issuer and audience, then the
// blacklist. In ModeStrict it also requires the session to still exist;
// both lookups share one Redis round trip. Backend failures fail closed.
func (e *Engine) VerifyAccess(ctx context.Context, token string) (id Identity, err error) {
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}
	ctx, span := e.startSpan(ctx, "VerifyAccess")
	defer func() { endSpan(span, err) }()

	defer func() {
		if err != nil {
			e.metricInc(MetricVerifyFailure)
		} else {
			e.metricInc(MetricVerifySuccess)
		}
	}()

	if e.jwtManager == nil {
		return Identity{}, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return Identity{}, tokenError(err)
	}

	var revoked, live *redis.IntCmd
	_, err = e.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		revoked = pipe.Exists(ctx, e.blacklist.Key(claims.ID))
		if e.config.ValidationMode == ModeStrict {
			live = pipe.Exists(ctx, e.sessionStore.Key(claims.SID))
		}
		return nil
	})
	if err != nil {
		return Identity{}, unavailable(err)
	}
	if revoked.Val() == 1 {
		return Identity{}, ErrTokenRevoked
	}
	if live != nil && live.Val() == 0 {
		return Identity{}, ErrTokenRevoked
	}

	id = Identity{
		UserID:    claims.UID,
		SessionID: claims.SID,
		TokenID:   claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Refresh exchanges a refresh token for a new pair. The presented version
// must equal the session's current refresh_version; it is then advanced by
// one. Any other version is treated as a replayed token: the session is
// destroyed and [ErrTokenReuseDetected] returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	ctx, span := e.startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	if e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		err = tokenError(err)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, func() map[string]string {
			return map[string]string{"reason": "parse_failed"}
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("authcore.session_id", claims.SID))

	if err := e.rateLimiter.Allow(ctx, rate.ActionRefresh, claims.SID, ""); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRateLimited
		}
		return nil, unavailable(err)
	}

	res, err := e.sessionStore.Rotate(ctx, claims.SID, claims.Version)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, unavailable(err)
	}

	switch res.Status {
	case session.RotateOK:
	case session.RotateReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionInvalidated)
		e.logger.Warn(ctx, "refresh token reuse detected, session revoked",
			"user_id", claims.UID, "session_id", claims.SID,
			"presented_version", claims.Version, "current_version", res.Version)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, claims.UID, claims.SID, ErrTokenReuseDetected, func() map[string]string {
			return map[string]string{
				"presented_version": strconv.FormatUint(claims.Version, 10),
				"current_version":   strconv.FormatUint(res.Version, 10),
			}
		})
		return nil, ErrTokenReuseDetected
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UID, claims.SID, ErrTokenRevoked, func() map[string]string {
			return map[string]string{"reason": "session_not_found"}
		})
		return nil, ErrTokenRevoked
	}

	if res.UserID != claims.UID {
		// A validly signed token naming another user's session.
		if _, delErr := e.sessionStore.Invalidate(ctx, claims.SID); delErr != nil {
			e.logger.Warn(ctx, "invalidate mismatched session", "session_id", claims.SID, "error", delErr)
		}
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	expiry := time.Now().Add(e.config.JWT.RefreshTTL)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	pair, err = e.mintPair(claims.UID, claims.SID, res.Version, expiry)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, claims.UID, claims.SID, nil, func() map[string]string {
		return map[string]string{"version": strconv.FormatUint(res.Version, 10)}
	})
	return pair, nil
}

// BlacklistAccessToken revokes an access token by its jti until expiresAt.
// Tokens already past expiry are ignored.
func (e *Engine) BlacklistAccessToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := e.blacklist.Add(ctx, tokenID, expiresAt); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricTokenRevoked)
	return nil
}

// Logout ends the session of a verified identity and blacklists its
// access token. It is idempotent.
func (e *Engine) Logout(ctx context.Context, id Identity) error {
	if _, err := e.InvalidateSession(ctx, id.SessionID, "logout"); err != nil {
		return err
	}
	if err := e.BlacklistAccessToken(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, id.UserID, id.SessionID, nil, nil)
	return nil
}

// LogoutAll ends every session of the caller and blacklists the presented
// access token. It returns the number of sessions revoked.
func (e *Engine) LogoutAll(ctx context.Context, id Identity) (int, error) {
	n, err := e.RevokeAllUserTokens(ctx, id.UserID, "logout_all")
	if err != nil {
		return 0, err
	}
	if err := e.BlacklistAccessToken(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return n, err
	}
	e.metricInc(MetricLogoutAll)
	return n, nil
}

// InvalidateSession deletes one session. It reports whether the session
// still existed; calling it twice is safe.
func (e *Engine) InvalidateSession(ctx context.Context, sessionID, reason string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	removed, err := e.sessionStore.Invalidate(ctx, sessionID)
	if err != nil {
		return false, unavailable(err)
	}
	if removed {
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventSessionInvalidated, true, "", sessionID, nil, func() map[string]string {
			return map[string]string{"reason": reason}
		})
	}
	return removed, nil
}

// RevokeAllUserTokens invalidates every session of userID and returns how
// many were live. A refresh racing this call observes the revoked state.
func (e *Engine) RevokeAllUserTokens(ctx context.Context, userID, reason string) (int, error) {
	n, err := e.sessionStore.InvalidateAll(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"reason":  reason,
			"revoked": strconv.Itoa(n),
		}
	})
	return n, nil
}

// ListSessions returns the caller's live sessions, most recently active
// first. Dangling index entries are pruned as a side effect.
func (e *Engine) ListSessions(ctx context.Context, id Identity) ([]SessionInfo, error) {
	sessions, err := e.sessionStore.List(ctx, id.UserID)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:           s.ID,
			IP:           s.IP,
			UserAgent:    s.UserAgent,
			RememberMe:   s.RememberMe,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.ID == id.SessionID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// RevokeSession lets a user end one of their own sessions from device
// management.
func (e *Engine) RevokeSession(ctx context.Context, id Identity, sessionID string) error {
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return unavailable(err)
	}
	if sess.UserID != id.UserID {
		return ErrInsufficientPermissions
	}
	_, err = e.InvalidateSession(ctx, sessionID, "user_revoked")
	return err
}

// Heartbeat records activity on a session. A revoked session returns
// [ErrTokenRevoked].
func (e *Engine) Heartbeat(ctx context.Context, sessionID string) error {
	if err := e.sessionStore.Touch(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrTokenRevoked
		}
		return unavailable(err)
	}
	return nil
}
