package models

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{},
		&SiteAdmin{},
		&Server{},
		&UserServer{},
		&Channel{},
		&Message{},
		&DirectMessage{},
		&ServerInvite{},
		&FriendRequest{},
		&UserFriend{},
		&Role{},
		&RolePermissions{},
		&UserRole{},
		&ChannelRolePermission{},
		&UserBan{},
		&UserTimeout{},
		&UserReport{},
	}
}
