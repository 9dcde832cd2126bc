package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/permission"
	"go.opentelemetry.io/otel/attribute"
)

// Authorize is the gate every protected operation calls. It verifies the
// bearer token and, for a scoped resource, resolves the caller's
// capabilities there and checks that every bit of required is present.
//
// A denial returns [ErrInsufficientPermissions] and never says which
// capability was missing. A context that is done before the decision is
// made also denies.
func (e *Engine) Authorize(ctx context.Context, bearer string, required permission.Mask, rc ResourceContext) (Decision, error) {
	if err := ctx.Err(); err != nil {
		e.metricInc(MetricAuthorizeTimeout)
		return Decision{}, ErrInsufficientPermissions
	}
	id, err := e.VerifyAccess(ctx, bearer)
	if err != nil {
		if ctx.Err() != nil {
			e.metricInc(MetricAuthorizeTimeout)
			return Decision{}, ErrInsufficientPermissions
		}
		return Decision{}, err
	}
	return e.AuthorizeIdentity(ctx, id, required, rc)
}

// AuthorizeIdentity is Authorize for an identity that was already
// verified, typically by HTTP middleware.
func (e *Engine) AuthorizeIdentity(ctx context.Context, id Identity, required permission.Mask, rc ResourceContext) (decision Decision, err error) {
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricAuthorizeLatency, time.Since(start)) }()
	}
	ctx, span := e.startSpan(ctx, "Authorize",
		attribute.String("authcore.server_id", rc.ServerID),
		attribute.String("authcore.channel_id", rc.ChannelID),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("authcore.allowed", decision.Allowed))
		endSpan(span, err)
	}()

	deny := func() (Decision, error) {
		e.metricInc(MetricAuthorizeDenied)
		return Decision{Identity: id}, ErrInsufficientPermissions
	}

	if !rc.Scoped() {
		if !required.IsZero() {
			return deny()
		}
		if ctx.Err() != nil {
			e.metricInc(MetricAuthorizeTimeout)
			return deny()
		}
		e.metricInc(MetricAuthorizeAllowed)
		return Decision{Allowed: true, Identity: id}, nil
	}

	resolved, err := e.ResolvePermissions(ctx, id.UserID, rc)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.metricInc(MetricAuthorizeTimeout)
			return deny()
		}
		e.metricInc(MetricAuthorizeDenied)
		return Decision{Identity: id}, err
	}
	if ctx.Err() != nil {
		e.metricInc(MetricAuthorizeTimeout)
		return deny()
	}
	if !permission.HasCapability(resolved, required) {
		return deny()
	}

	e.metricInc(MetricAuthorizeAllowed)
	return Decision{Allowed: true, Identity: id}, nil
}

// ResolvePermissions returns the effective capability mask of userID in
// rc. Non-members and banned members resolve to the empty mask; a ban
// overrides both owner and administrator bypass. Results are cached
// briefly when the permission cache is enabled.
func (e *Engine) ResolvePermissions(ctx context.Context, userID string, rc ResourceContext) (permission.Mask, error) {
	if e.permissions == nil {
		return permission.Mask{}, ErrEngineNotReady
	}
	if mask, ok := e.permCache.Get(rc.ServerID, rc.ChannelID, userID); ok {
		e.metricInc(MetricPermissionCacheHit)
		return mask, nil
	}
	e.metricInc(MetricPermissionCacheMiss)

	loadCtx := ctx
	if timeout := e.config.Permission.SnapshotTimeout; timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snap, err := e.permissions.PermissionSnapshot(loadCtx, rc.ServerID, rc.ChannelID, userID)
	if err != nil {
		if ctxErr := loadCtx.Err(); ctxErr != nil {
			return permission.Mask{}, ctxErr
		}
		return permission.Mask{}, unavailable(err)
	}

	mask := resolveSnapshot(userID, snap)
	e.permCache.Set(rc.ServerID, rc.ChannelID, userID, mask)
	return mask, nil
}

func resolveSnapshot(userID string, snap *PermissionSnapshot) permission.Mask {
	if snap == nil || snap.Banned {
		return permission.Mask{}
	}
	isOwner := snap.OwnerID != "" && snap.OwnerID == userID
	if !snap.IsMember && !isOwner {
		return permission.Mask{}
	}
	return permission.Resolve(permission.ResolveInput{
		UserID:        userID,
		IsServerOwner: isOwner,
		Roles:         snap.Roles,
		Everyone:      snap.Everyone,
		Overwrites:    snap.Overwrites,
	})
}

// InvalidatePermissions drops cached masks for a server after its roles,
// assignments or overwrites change.
func (e *Engine) InvalidatePermissions(serverID string) {
	e.permCache.InvalidateServer(serverID)
}
