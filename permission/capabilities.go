package permission

// Bit positions of the platform capability catalog. Positions are
// persisted inside role and overwrite masks and must never be reused.
const (
	BitViewChannel     = 0
	BitSendMessages    = 1
	BitManageMessages  = 2
	BitManageChannels  = 3
	BitManageRoles     = 4
	BitKickMembers     = 5
	BitBanMembers      = 6
	BitAttachFiles     = 7
	BitAddReactions    = 8
	BitMentionEveryone = 9
	BitManageServer    = 10
	BitCreateInvite    = 11
	BitConnectVoice    = 12
	BitSpeak           = 13
	BitManagePosts     = 14
	BitManageCommunity = 15

	BitStake           = 64
	BitModerateContent = 65

	BitAdministrator = MaxBits - 1
)

// Capability names as exposed over the wire.
const (
	NameViewChannel     = "VIEW_CHANNEL"
	NameSendMessages    = "SEND_MESSAGES"
	NameManageMessages  = "MANAGE_MESSAGES"
	NameManageChannels  = "MANAGE_CHANNELS"
	NameManageRoles     = "MANAGE_ROLES"
	NameKickMembers     = "KICK_MEMBERS"
	NameBanMembers      = "BAN_MEMBERS"
	NameAttachFiles     = "ATTACH_FILES"
	NameAddReactions    = "ADD_REACTIONS"
	NameMentionEveryone = "MENTION_EVERYONE"
	NameManageServer    = "MANAGE_SERVER"
	NameCreateInvite    = "CREATE_INVITE"
	NameConnectVoice    = "CONNECT_VOICE"
	NameSpeak           = "SPEAK"
	NameManagePosts     = "MANAGE_POSTS"
	NameManageCommunity = "MANAGE_COMMUNITY"
	NameStake           = "STAKE"
	NameModerateContent = "MODERATE_CONTENT"
	NameAdministrator   = "ADMINISTRATOR"
)

var (
	ViewChannel     = Bit(BitViewChannel)
	SendMessages    = Bit(BitSendMessages)
	ManageMessages  = Bit(BitManageMessages)
	ManageChannels  = Bit(BitManageChannels)
	ManageRoles     = Bit(BitManageRoles)
	KickMembers     = Bit(BitKickMembers)
	BanMembers      = Bit(BitBanMembers)
	AttachFiles     = Bit(BitAttachFiles)
	AddReactions    = Bit(BitAddReactions)
	MentionEveryone = Bit(BitMentionEveryone)
	ManageServer    = Bit(BitManageServer)
	CreateInvite    = Bit(BitCreateInvite)
	ConnectVoice    = Bit(BitConnectVoice)
	Speak           = Bit(BitSpeak)
	ManagePosts     = Bit(BitManagePosts)
	ManageCommunity = Bit(BitManageCommunity)
	Stake           = Bit(BitStake)
	ModerateContent = Bit(BitModerateContent)
	Administrator   = Bit(BitAdministrator)
)

var catalog = []struct {
	name string
	bit  int
}{
	{NameViewChannel, BitViewChannel},
	{NameSendMessages, BitSendMessages},
	{NameManageMessages, BitManageMessages},
	{NameManageChannels, BitManageChannels},
	{NameManageRoles, BitManageRoles},
	{NameKickMembers, BitKickMembers},
	{NameBanMembers, BitBanMembers},
	{NameAttachFiles, BitAttachFiles},
	{NameAddReactions, BitAddReactions},
	{NameMentionEveryone, BitMentionEveryone},
	{NameManageServer, BitManageServer},
	{NameCreateInvite, BitCreateInvite},
	{NameConnectVoice, BitConnectVoice},
	{NameSpeak, BitSpeak},
	{NameManagePosts, BitManagePosts},
	{NameManageCommunity, BitManageCommunity},
	{NameStake, BitStake},
	{NameModerateContent, BitModerateContent},
}

// DefaultRegistry returns a frozen registry holding the platform catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range catalog {
		if err := r.RegisterAt(c.name, c.bit); err != nil {
			panic("permission: invalid catalog entry " + c.name + ": " + err.Error())
		}
	}
	r.Freeze()
	return r
}
