package callback

import (
	"fmt"

	"github.com/google/uuid"
)

// TopicID is the routing key a subscription is filed under.
type TopicID = uuid.UUID

// namespace is fixed forever; changing it re-keys every topic.
var namespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

const adminTopicName = "AdminNotifications"

func derive(name string) TopicID {
	return uuid.NewSHA1(namespace, []byte(name))
}

// DeriveID returns the topic for a single entity of the given kind.
// The kind name is part of the hashed input so equal ids never collide
// across kinds.
func DeriveID(kind Kind, entityID int64) TopicID {
	return derive(fmt.Sprintf("%s:%d", kind, entityID))
}

// DeriveConversationID returns the topic shared by a pair of users. The
// result does not depend on argument order.
func DeriveConversationID(userA, userB int64) TopicID {
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}
	return derive(fmt.Sprintf("%s:%d:%d", DirectMessageEvent, lo, hi))
}

// DeriveAdminID returns the site-wide administrator topic.
func DeriveAdminID() TopicID {
	return derive(adminTopicName)
}

// DeriveUserRoleChangedID scopes a role change to one user in one server.
func DeriveUserRoleChangedID(userID, serverID int64) TopicID {
	return derive(fmt.Sprintf("%s:%d:%d", UserRoleChanged, userID, serverID))
}
