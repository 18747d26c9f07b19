package callback

import "fmt"

// Kind identifies a category of change notification. The string form of a
// kind is hashed into topic ids, so names must never change once shipped.
type Kind int

const (
	ServerInvite Kind = iota
	ChannelMessageEvent
	FriendRequest
	ServerPropertyUpdated
	ServerMemberUpdated
	FriendsListUpdated
	ChannelDeleted
	ServerDeleted
	DirectMessageEvent
	RolesUpdated
	UserRoleChanged
	ChannelOverridesUpdated
	UserBanned
	UserTimedOut
	AppealSubmitted
	AppealReviewed
	ReportSubmitted
)

var kindNames = [...]string{
	ServerInvite:            "ServerInvite",
	ChannelMessageEvent:     "ChannelMessageEvent",
	FriendRequest:           "FriendRequest",
	ServerPropertyUpdated:   "ServerPropertyUpdated",
	ServerMemberUpdated:     "ServerMemberUpdated",
	FriendsListUpdated:      "FriendsListUpdated",
	ChannelDeleted:          "ChannelDeleted",
	ServerDeleted:           "ServerDeleted",
	DirectMessageEvent:      "DirectMessageEvent",
	RolesUpdated:            "RolesUpdated",
	UserRoleChanged:         "UserRoleChanged",
	ChannelOverridesUpdated: "ChannelOverridesUpdated",
	UserBanned:              "UserBanned",
	UserTimedOut:            "UserTimedOut",
	AppealSubmitted:         "AppealSubmitted",
	AppealReviewed:          "AppealReviewed",
	ReportSubmitted:         "ReportSubmitted",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

// Kinds returns every declared kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}
