package websocket

import (
	"context"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
)

// SubscribeRequest names what a client wants to watch. ID is the entity the
// kind is keyed by; DirectMessageEvent uses PeerID instead, and a
// UserRoleChanged request with ServerID watches a single server.
type SubscribeRequest struct {
	Kind     string `json:"kind"`
	ID       int64  `json:"id,omitempty"`
	PeerID   int64  `json:"peer_id,omitempty"`
	ServerID int64  `json:"server_id,omitempty"`
}

// Guard maps a request to a registry key, refusing what userID may not see.
type Guard interface {
	Resolve(ctx context.Context, userID int64, req SubscribeRequest) (callback.Kind, callback.TopicID, error)
}

// SiteAdmins reports site administrators.
type SiteAdmins interface {
	IsSiteAdmin(ctx context.Context, userID int64) (bool, error)
}

// Members checks server membership.
type Members interface {
	RequireMember(ctx context.Context, userID, serverID int64) error
}

// Channels loads channels.
type Channels interface {
	GetChannel(ctx context.Context, channelID int64) (*models.Channel, error)
}

type scope int

const (
	scopeUser scope = iota
	scopeServer
	scopeChannel
	scopeConversation
	scopeAdmin
)

var kindScopes = map[callback.Kind]scope{
	callback.ServerInvite:            scopeUser,
	callback.FriendRequest:           scopeUser,
	callback.FriendsListUpdated:      scopeUser,
	callback.UserRoleChanged:         scopeUser,
	callback.UserBanned:              scopeUser,
	callback.UserTimedOut:            scopeUser,
	callback.AppealReviewed:          scopeUser,
	callback.ServerPropertyUpdated:   scopeServer,
	callback.ServerMemberUpdated:     scopeServer,
	callback.ServerDeleted:           scopeServer,
	callback.RolesUpdated:            scopeServer,
	callback.ChannelMessageEvent:     scopeChannel,
	callback.ChannelDeleted:          scopeChannel,
	callback.ChannelOverridesUpdated: scopeChannel,
	callback.DirectMessageEvent:      scopeConversation,
	callback.AppealSubmitted:         scopeAdmin,
	callback.ReportSubmitted:         scopeAdmin,
}

// AccessGuard lets users watch their own topics, topics of servers and
// channels they belong to, and their conversations. Site administrators may
// watch anything.
type AccessGuard struct {
	admins   SiteAdmins
	members  Members
	channels Channels
}

func NewAccessGuard(admins SiteAdmins, members Members, channels Channels) *AccessGuard {
	return &AccessGuard{admins: admins, members: members, channels: channels}
}

func (g *AccessGuard) Resolve(ctx context.Context, userID int64, req SubscribeRequest) (callback.Kind, callback.TopicID, error) {
	kind, err := callback.ParseKind(req.Kind)
	if err != nil {
		return 0, callback.TopicID{}, apperr.Invalid("unknown kind %q", req.Kind)
	}
	admin, err := g.admins.IsSiteAdmin(ctx, userID)
	if err != nil {
		return 0, callback.TopicID{}, err
	}

	switch kindScopes[kind] {
	case scopeAdmin:
		if !admin {
			return 0, callback.TopicID{}, apperr.Forbidden("site administrators only")
		}
		return kind, callback.DeriveAdminID(), nil

	case scopeConversation:
		if req.PeerID == 0 || req.PeerID == userID {
			return 0, callback.TopicID{}, apperr.Invalid("peer_id is required")
		}
		return kind, callback.DeriveConversationID(userID, req.PeerID), nil

	case scopeUser:
		id := req.ID
		if id == 0 {
			id = userID
		}
		if id != userID && !admin {
			return 0, callback.TopicID{}, apperr.Forbidden("cannot watch another user")
		}
		if kind == callback.UserRoleChanged && req.ServerID != 0 {
			return kind, callback.DeriveUserRoleChangedID(id, req.ServerID), nil
		}
		return kind, callback.DeriveID(kind, id), nil

	case scopeServer:
		if !admin {
			if err := g.members.RequireMember(ctx, userID, req.ID); err != nil {
				return 0, callback.TopicID{}, err
			}
		}
		return kind, callback.DeriveID(kind, req.ID), nil

	case scopeChannel:
		if !admin {
			ch, err := g.channels.GetChannel(ctx, req.ID)
			if err != nil {
				return 0, callback.TopicID{}, err
			}
			if err := g.members.RequireMember(ctx, userID, ch.ServerID); err != nil {
				return 0, callback.TopicID{}, err
			}
		}
		return kind, callback.DeriveID(kind, req.ID), nil
	}
	return 0, callback.TopicID{}, apperr.Invalid("kind %s cannot be watched", kind)
}
