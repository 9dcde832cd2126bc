package permission

import (
	"math/rand"
	"testing"
)

func everyone(perms Mask) *Role {
	return &Role{ID: "everyone", Permissions: perms, IsEveryone: true}
}

func TestResolveScenarioUserAllowBeatsEveryoneDeny(t *testing.T) {
	in := ResolveInput{
		UserID:   "u1",
		Everyone: everyone(Of(ViewChannel, SendMessages)),
		Roles:    []Role{{ID: "moderator", Permissions: ManageMessages, Position: 3}},
		Overwrites: []Overwrite{
			{Kind: TargetRole, TargetID: "everyone", Deny: SendMessages},
			{Kind: TargetUser, TargetID: "u1", Allow: SendMessages},
		},
	}

	got := Resolve(in)
	want := Of(ViewChannel, SendMessages, ManageMessages)
	if got != want {
		t.Fatalf("expected %v, got %v", DefaultRegistry().Names(want), DefaultRegistry().Names(got))
	}
}

func TestResolveRoleDenyWithoutUserOverwrite(t *testing.T) {
	got := Resolve(ResolveInput{
		UserID:   "u1",
		Everyone: everyone(Of(ViewChannel, SendMessages)),
		Overwrites: []Overwrite{
			{Kind: TargetRole, TargetID: "everyone", Deny: SendMessages},
			{Kind: TargetUser, TargetID: "someone-else", Allow: SendMessages},
		},
	})
	if got.Contains(SendMessages) {
		t.Fatal("role deny must apply when no matching user overwrite exists")
	}
	if !got.Contains(ViewChannel) {
		t.Fatal("VIEW_CHANNEL must survive")
	}
}

func TestResolveRoleAllowBeatsOtherRoleDeny(t *testing.T) {
	got := Resolve(ResolveInput{
		UserID:   "u1",
		Everyone: everyone(ViewChannel),
		Roles:    []Role{{ID: "speaker", Permissions: Mask{}}},
		Overwrites: []Overwrite{
			{Kind: TargetRole, TargetID: "everyone", Deny: Of(SendMessages, ViewChannel)},
			{Kind: TargetRole, TargetID: "speaker", Allow: SendMessages},
			{Kind: TargetRole, TargetID: "unassigned", Allow: BanMembers},
		},
	})
	if got != SendMessages {
		t.Fatalf("expected only SEND_MESSAGES, got %v", DefaultRegistry().Names(got))
	}
}

func TestResolveUserDenyApplied(t *testing.T) {
	got := Resolve(ResolveInput{
		UserID:     "u1",
		Everyone:   everyone(Of(ViewChannel, SendMessages)),
		Overwrites: []Overwrite{{Kind: TargetUser, TargetID: "u1", Deny: ViewChannel}},
	})
	if got != SendMessages {
		t.Fatalf("expected user deny to strip VIEW_CHANNEL, got %v", got)
	}
}

func TestResolveAdministratorBypass(t *testing.T) {
	got := Resolve(ResolveInput{
		UserID:   "u1",
		Everyone: everyone(ViewChannel),
		Roles:    []Role{{ID: "admin", Permissions: Administrator}},
		Overwrites: []Overwrite{
			{Kind: TargetRole, TargetID: "admin", Deny: FullMask()},
			{Kind: TargetUser, TargetID: "u1", Deny: FullMask()},
		},
	})
	if got != FullMask() {
		t.Fatalf("administrator must receive full set, got %v", got)
	}
}

func TestResolveAdministratorGrantedByOverwrite(t *testing.T) {
	cases := map[string][]Overwrite{
		"role": {{Kind: TargetRole, TargetID: "everyone", Allow: Administrator}},
		"user": {{Kind: TargetUser, TargetID: "u1", Allow: Administrator}},
	}
	for name, overwrites := range cases {
		t.Run(name, func(t *testing.T) {
			got := Resolve(ResolveInput{
				UserID:     "u1",
				Everyone:   everyone(ViewChannel),
				Overwrites: overwrites,
			})
			if got != FullMask() {
				t.Fatalf("expected full set, got %v", DefaultRegistry().Names(got))
			}
			if !HasCapability(got, Of(SendMessages, BanMembers, Stake)) {
				t.Fatal("administrator granted in a channel must pass every check")
			}
		})
	}

	got := Resolve(ResolveInput{
		UserID:   "u1",
		Everyone: everyone(ViewChannel),
		Overwrites: []Overwrite{
			{Kind: TargetRole, TargetID: "everyone", Allow: Administrator},
			{Kind: TargetUser, TargetID: "u1", Deny: Administrator},
		},
	})
	if got != ViewChannel {
		t.Fatalf("user deny of ADMINISTRATOR must win, got %v", DefaultRegistry().Names(got))
	}
}

func TestResolveRoleOverwritesFoldByRoleID(t *testing.T) {
	resolve := func(overwrites []Overwrite) Mask {
		return Resolve(ResolveInput{
			UserID:     "u1",
			Everyone:   everyone(ViewChannel),
			Roles:      []Role{{ID: "b", Position: 1}, {ID: "a", Position: 9}},
			Overwrites: overwrites,
		})
	}

	// "b" sorts after "a", so its deny lands last.
	got := resolve([]Overwrite{
		{Kind: TargetRole, TargetID: "b", Deny: SendMessages},
		{Kind: TargetRole, TargetID: "a", Allow: SendMessages},
	})
	if got != ViewChannel {
		t.Fatalf("expected later role deny to win, got %v", DefaultRegistry().Names(got))
	}

	got = resolve([]Overwrite{
		{Kind: TargetRole, TargetID: "a", Deny: SendMessages},
		{Kind: TargetRole, TargetID: "b", Allow: SendMessages},
	})
	if got != Of(ViewChannel, SendMessages) {
		t.Fatalf("expected later role allow to win, got %v", DefaultRegistry().Names(got))
	}
}

func TestResolveMergesOverwritesForSameRole(t *testing.T) {
	got := Resolve(ResolveInput{
		UserID:   "u1",
		Everyone: everyone(Of(ViewChannel, AttachFiles)),
		Overwrites: []Overwrite{
			{Kind: TargetRole, TargetID: "everyone", Allow: SendMessages},
			{Kind: TargetRole, TargetID: "everyone", Deny: Of(SendMessages, AttachFiles)},
		},
	})
	if got != Of(ViewChannel, SendMessages) {
		t.Fatalf("expected deny then allow within one role, got %v", DefaultRegistry().Names(got))
	}
}

func TestResolveOwnerBypass(t *testing.T) {
	got := Resolve(ResolveInput{
		UserID:        "owner",
		IsServerOwner: true,
		Overwrites:    []Overwrite{{Kind: TargetUser, TargetID: "owner", Deny: FullMask()}},
	})
	if !HasCapability(got, Of(ManageServer, Stake)) {
		t.Fatal("owner must hold every capability")
	}
}

func TestResolvePositionIgnoredAndOrderIndependent(t *testing.T) {
	roles := []Role{
		{ID: "a", Permissions: SendMessages, Position: 10},
		{ID: "b", Permissions: AttachFiles, Position: 1},
		{ID: "c", Permissions: Stake, Position: 5},
	}
	overwrites := []Overwrite{
		{Kind: TargetRole, TargetID: "a", Deny: AttachFiles, Allow: Speak},
		{Kind: TargetRole, TargetID: "b", Allow: ModerateContent},
		{Kind: TargetRole, TargetID: "c", Deny: Of(SendMessages, Speak), Allow: AddReactions},
		{Kind: TargetUser, TargetID: "u1", Deny: Stake},
	}
	want := Resolve(ResolveInput{UserID: "u1", Everyone: everyone(ViewChannel), Roles: roles, Overwrites: overwrites})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		r := append([]Role(nil), roles...)
		o := append([]Overwrite(nil), overwrites...)
		rng.Shuffle(len(r), func(i, j int) { r[i], r[j] = r[j], r[i] })
		rng.Shuffle(len(o), func(i, j int) { o[i], o[j] = o[j], o[i] })
		for k := range r {
			r[k].Position = rng.Intn(100)
		}
		got := Resolve(ResolveInput{UserID: "u1", Everyone: everyone(ViewChannel), Roles: r, Overwrites: o})
		if got != want {
			t.Fatalf("iteration %d: expected %v, got %v", i, want, got)
		}
	}
	if want.Has(BitStake) || want.Has(BitSpeak) || !want.Has(BitModerateContent) {
		t.Fatalf("unexpected resolution %v", DefaultRegistry().Names(want))
	}
}

func TestHasCapability(t *testing.T) {
	if !HasCapability(Of(ViewChannel, SendMessages), ViewChannel) {
		t.Fatal("expected subset to pass")
	}
	if HasCapability(ViewChannel, Of(ViewChannel, SendMessages)) {
		t.Fatal("expected missing bit to fail")
	}
	if !HasCapability(Mask{}, Mask{}) {
		t.Fatal("empty requirement always holds")
	}
}
