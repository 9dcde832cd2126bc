package permission

import "sort"

// TargetKind identifies what a channel overwrite applies to.
type TargetKind uint8

const (
	// TargetRole scopes an overwrite to every holder of a role.
	TargetRole TargetKind = iota + 1
	// TargetUser scopes an overwrite to one member.
	TargetUser
)

// Role is a named grant set within a server. Position is display-only.
type Role struct {
	ID          string
	Permissions Mask
	Position    int
	IsEveryone  bool
}

// Overwrite is a per-channel allow/deny pair for a role or a user.
type Overwrite struct {
	Kind     TargetKind
	TargetID string
	Allow    Mask
	Deny     Mask
}

// ResolveInput is everything Resolve needs. It is built by the caller from
// one consistent storage snapshot.
type ResolveInput struct {
	UserID        string
	IsServerOwner bool
	// Roles are the roles assigned to the member. The @everyone role is
	// folded in even if absent from this list when Everyone is set.
	Roles      []Role
	Everyone   *Role
	Overwrites []Overwrite
}

// Resolve computes the effective capability mask for a member in a
// channel. It performs no I/O. Role overwrites are folded one role at a
// time in ascending role id order; several overwrites for the same role
// are merged first. ADMINISTRATOR in the base or in the overwritten
// result yields the full mask.
func Resolve(in ResolveInput) Mask {
	if in.IsServerOwner {
		return FullMask()
	}

	assigned := make(map[string]struct{}, len(in.Roles)+1)
	var base Mask
	if in.Everyone != nil {
		base = base.Or(in.Everyone.Permissions)
		assigned[in.Everyone.ID] = struct{}{}
	}
	for _, role := range in.Roles {
		base = base.Or(role.Permissions)
		assigned[role.ID] = struct{}{}
	}

	if base.Contains(Administrator) {
		return FullMask()
	}

	byRole := make(map[string]Overwrite, len(in.Overwrites))
	var user Overwrite
	for _, ow := range in.Overwrites {
		switch ow.Kind {
		case TargetRole:
			if _, ok := assigned[ow.TargetID]; !ok {
				continue
			}
			merged := byRole[ow.TargetID]
			merged.Allow = merged.Allow.Or(ow.Allow)
			merged.Deny = merged.Deny.Or(ow.Deny)
			byRole[ow.TargetID] = merged
		case TargetUser:
			if ow.TargetID == in.UserID {
				user.Allow = user.Allow.Or(ow.Allow)
				user.Deny = user.Deny.Or(ow.Deny)
			}
		}
	}

	ids := make([]string, 0, len(byRole))
	for id := range byRole {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ow := byRole[id]
		base = base.AndNot(ow.Deny).Or(ow.Allow)
	}

	base = base.AndNot(user.Deny).Or(user.Allow)

	if base.Contains(Administrator) {
		return FullMask()
	}
	return base
}

// HasCapability reports whether resolved carries every bit of required.
func HasCapability(resolved, required Mask) bool {
	return resolved.Contains(required)
}
