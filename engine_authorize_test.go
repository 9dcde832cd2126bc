package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

func TestAuthorizeChannelOverwrites(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, pair := h.register(t, "alice@example.com", "alice")

	everyone := role("everyone", 0, permission.ViewChannel, permission.SendMessages)
	everyone.IsEveryone = true
	h.perms.set("srv", "announcements", uid, &PermissionSnapshot{
		OwnerID:  "someone-else",
		IsMember: true,
		Roles:    []permission.Role{role("moderator", 3, permission.ManageMessages)},
		Everyone: &everyone,
		Overwrites: []permission.Overwrite{
			{Kind: permission.TargetRole, TargetID: "everyone", Deny: permission.SendMessages},
			{Kind: permission.TargetUser, TargetID: uid, Allow: permission.SendMessages},
		},
	})
	rc := ResourceContext{ServerID: "srv", ChannelID: "announcements"}

	decision, err := h.engine.Authorize(ctx, pair.AccessToken, permission.SendMessages, rc)
	if err != nil || !decision.Allowed {
		t.Fatalf("user allow must beat role deny, got %+v %v", decision, err)
	}
	if decision.Identity.UserID != uid {
		t.Fatalf("expected identity of %s, got %+v", uid, decision.Identity)
	}

	decision, err = h.engine.Authorize(ctx, pair.AccessToken, permission.Of(permission.SendMessages, permission.BanMembers), rc)
	if !errors.Is(err, ErrInsufficientPermissions) || decision.Allowed {
		t.Fatalf("every required bit must be present, got %+v %v", decision, err)
	}

	mask, err := h.engine.ResolvePermissions(ctx, uid, rc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := permission.Of(permission.ViewChannel, permission.SendMessages, permission.ManageMessages)
	if mask != want {
		t.Fatalf("expected %v, got %v", h.engine.Registry().Names(want), h.engine.Registry().Names(mask))
	}
}

func TestAuthorizeOwnerAndAdministratorBypass(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	owner, ownerPair := h.register(t, "owner@example.com", "owner")
	admin, adminPair := h.register(t, "admin@example.com", "admin")
	rc := ResourceContext{ServerID: "srv", ChannelID: "general"}

	// The owner has no roles and is denied by a user overwrite, yet holds
	// every capability.
	h.perms.set("srv", "general", owner, &PermissionSnapshot{
		OwnerID: owner,
		Overwrites: []permission.Overwrite{
			{Kind: permission.TargetUser, TargetID: owner, Deny: permission.FullMask()},
		},
	})
	h.perms.set("srv", "general", admin, &PermissionSnapshot{
		OwnerID:  owner,
		IsMember: true,
		Roles:    []permission.Role{role("admins", 10, permission.Administrator)},
		Overwrites: []permission.Overwrite{
			{Kind: permission.TargetRole, TargetID: "admins", Deny: permission.ManageServer},
		},
	})

	for name, token := range map[string]string{"owner": ownerPair.AccessToken, "admin": adminPair.AccessToken} {
		decision, err := h.engine.Authorize(ctx, token, permission.Of(permission.ManageServer, permission.BanMembers), rc)
		if err != nil || !decision.Allowed {
			t.Fatalf("%s must bypass overwrites, got %+v %v", name, decision, err)
		}
	}
}

func TestAuthorizeBanOverridesBypass(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	uid, pair := h.register(t, "alice@example.com", "alice")
	rc := ResourceContext{ServerID: "srv"}

	h.perms.set("srv", "", uid, &PermissionSnapshot{
		OwnerID:  uid,
		IsMember: true,
		Banned:   true,
		Roles:    []permission.Role{role("admins", 10, permission.Administrator)},
	})

	if _, err := h.engine.Authorize(ctx, pair.AccessToken, permission.ViewChannel, rc); !errors.Is(err, ErrInsufficientPermissions) {
		t.Fatalf("banned member must be denied, got %v", err)
	}
}

func TestAuthorizeNonMemberDenied(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	_, pair := h.register(t, "alice@example.com", "alice")

	_, err := h.engine.Authorize(ctx, pair.AccessToken, permission.ViewChannel, ResourceContext{ServerID: "elsewhere"})
	if !errors.Is(err, ErrInsufficientPermissions) {
		t.Fatalf("expected ErrInsufficientPermissions for non-member, got %v", err)
	}
}

func TestAuthorizeIdentityOnly(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	_, pair := h.register(t, "alice@example.com", "alice")

	decision, err := h.engine.Authorize(ctx, pair.AccessToken, permission.Mask{}, ResourceContext{})
	if err != nil || !decision.Allowed {
		t.Fatalf("identity-only check must pass for a valid token, got %+v %v", decision, err)
	}
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, permission.ViewChannel, ResourceContext{}); !errors.Is(err, ErrInsufficientPermissions) {
		t.Fatalf("capabilities without a resource must be denied, got %v", err)
	}
	if _, err := h.engine.Authorize(ctx, "bogus", permission.Mask{}, ResourceContext{}); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthorizeTimeoutDenies(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.Permission.SnapshotTimeout = 50 * time.Millisecond })
	uid, pair := h.register(t, "alice@example.com", "alice")
	rc := ResourceContext{ServerID: "srv"}
	h.perms.set("srv", "", uid, &PermissionSnapshot{
		IsMember: true,
		Roles:    []permission.Role{role("admins", 10, permission.Administrator)},
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if decision, err := h.engine.Authorize(cancelled, pair.AccessToken, permission.ViewChannel, rc); !errors.Is(err, ErrInsufficientPermissions) || decision.Allowed {
		t.Fatalf("cancelled context must deny, got %+v %v", decision, err)
	}

	h.perms.delay = time.Second
	decision, err := h.engine.Authorize(context.Background(), pair.AccessToken, permission.ViewChannel, rc)
	if !errors.Is(err, ErrInsufficientPermissions) || decision.Allowed {
		t.Fatalf("slow snapshot must deny, got %+v %v", decision, err)
	}
	if h.engine.MetricsSnapshot().Counters[MetricAuthorizeTimeout] < 2 {
		t.Fatal("expected timeout metrics")
	}
}

func TestAuthorizeUsesPermissionCache(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.Permission.CacheEnabled = true })
	ctx := context.Background()
	uid, pair := h.register(t, "alice@example.com", "alice")
	rc := ResourceContext{ServerID: "srv", ChannelID: "general"}
	h.perms.set("srv", "general", uid, &PermissionSnapshot{
		IsMember: true,
		Roles:    []permission.Role{role("members", 1, permission.ViewChannel)},
	})

	if _, err := h.engine.Authorize(ctx, pair.AccessToken, permission.ViewChannel, rc); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	h.engine.permCache.Wait()
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, permission.ViewChannel, rc); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if h.perms.calls != 1 {
		t.Fatalf("expected one snapshot read, got %d", h.perms.calls)
	}

	// A role change must be visible after invalidation.
	h.perms.set("srv", "general", uid, &PermissionSnapshot{IsMember: true})
	h.engine.InvalidatePermissions("srv")
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, permission.ViewChannel, rc); !errors.Is(err, ErrInsufficientPermissions) {
		t.Fatalf("expected denial after invalidation, got %v", err)
	}
}
