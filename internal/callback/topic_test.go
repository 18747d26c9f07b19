package callback

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIDDeterministic(t *testing.T) {
	a := DeriveID(ChannelMessageEvent, 42)
	b := DeriveID(ChannelMessageEvent, 42)
	assert.Equal(t, a, b)
	assert.Equal(t, uuid.Version(5), a.Version())
	assert.Equal(t, uuid.RFC4122, a.Variant())
}

func TestDeriveIDKnownValue(t *testing.T) {
	ns := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	assert.Equal(t, uuid.NewSHA1(ns, []byte("ChannelMessageEvent:42")), DeriveID(ChannelMessageEvent, 42))
	assert.Equal(t, uuid.NewSHA1(ns, []byte("AdminNotifications")), DeriveAdminID())
	assert.Equal(t, uuid.NewSHA1(ns, []byte("DirectMessageEvent:3:9")), DeriveConversationID(9, 3))
}

func TestDeriveIDNoCrossKindCollision(t *testing.T) {
	seen := make(map[TopicID]string)
	for _, k := range Kinds() {
		for _, id := range []int64{-1, 0, 1, 2, 42, 1 << 40} {
			topic := DeriveID(k, id)
			name := k.String()
			prev, dup := seen[topic]
			require.False(t, dup, "collision between %s and %s/%d", prev, name, id)
			seen[topic] = name
		}
	}
}

func TestDeriveIDZeroDiffersAcrossKinds(t *testing.T) {
	assert.NotEqual(t, DeriveID(ServerInvite, 0), DeriveID(FriendRequest, 0))
}

func TestDeriveConversationIDSymmetric(t *testing.T) {
	assert.Equal(t, DeriveConversationID(5, 8), DeriveConversationID(8, 5))
	assert.NotEqual(t, DeriveConversationID(5, 8), DeriveConversationID(5, 9))
	assert.NotEqual(t, DeriveConversationID(5, 8), DeriveID(DirectMessageEvent, 5))
}

func TestDeriveAdminIDConstant(t *testing.T) {
	assert.Equal(t, DeriveAdminID(), DeriveAdminID())
	assert.NotEqual(t, DeriveAdminID(), DeriveID(AppealSubmitted, 0))
}

func TestDeriveUserRoleChangedID(t *testing.T) {
	assert.NotEqual(t, DeriveUserRoleChangedID(1, 2), DeriveUserRoleChangedID(2, 1))
	assert.NotEqual(t, DeriveUserRoleChangedID(1, 2), DeriveID(UserRoleChanged, 1))
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("Channel")
	assert.Error(t, err)
	assert.False(t, Kind(-1).Valid())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
