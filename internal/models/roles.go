package models

import "time"

type Role struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	ServerID  int64     `gorm:"index;not null" json:"server_id"`
	Name      string    `gorm:"not null" json:"name"`
	Color     string    `json:"color"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePermissions holds the server-level capabilities granted by one role.
type RolePermissions struct {
	RoleID               int64 `gorm:"primaryKey;autoIncrement:false" json:"role_id"`
	SendMessages         bool  `gorm:"not null;default:false" json:"send_messages"`
	DeleteOthersMessages bool  `gorm:"not null;default:false" json:"delete_others_messages"`
	TimeoutUser          bool  `gorm:"not null;default:false" json:"timeout_user"`
	BanUser              bool  `gorm:"not null;default:false" json:"ban_user"`
	EditChannels         bool  `gorm:"not null;default:false" json:"edit_channels"`
	AddChannels          bool  `gorm:"not null;default:false" json:"add_channels"`
	EditServerSettings   bool  `gorm:"not null;default:false" json:"edit_server_settings"`
	ManageRoles          bool  `gorm:"not null;default:false" json:"manage_roles"`
	AssignRoles          bool  `gorm:"not null;default:false" json:"assign_roles"`
}

// UserRole assigns a role to a user. ServerID is denormalised from the role
// so per-server lookups need no join.
type UserRole struct {
	UserID     int64     `gorm:"primaryKey;autoIncrement:false;index:idx_user_role_server,priority:1" json:"user_id"`
	RoleID     int64     `gorm:"primaryKey;autoIncrement:false;index" json:"role_id"`
	ServerID   int64     `gorm:"not null;index:idx_user_role_server,priority:2" json:"server_id"`
	AssignedAt time.Time `gorm:"autoCreateTime" json:"assigned_at"`
}

// ChannelRolePermission overrides role capabilities in one channel.
// nil inherits, true allows, false denies.
type ChannelRolePermission struct {
	ID                   int64 `gorm:"primaryKey" json:"id"`
	ChannelID            int64 `gorm:"uniqueIndex:idx_channel_role;not null" json:"channel_id"`
	RoleID               int64 `gorm:"uniqueIndex:idx_channel_role;index;not null" json:"role_id"`
	SendMessages         *bool `json:"send_messages"`
	DeleteOthersMessages *bool `json:"delete_others_messages"`
	TimeoutUser          *bool `json:"timeout_user"`
	BanUser              *bool `json:"ban_user"`
	EditChannels         *bool `json:"edit_channels"`
	AddChannels          *bool `json:"add_channels"`
	EditServerSettings   *bool `json:"edit_server_settings"`
	ManageRoles          *bool `json:"manage_roles"`
	AssignRoles          *bool `json:"assign_roles"`
}

// Bool returns a pointer to b, for building overrides.
func Bool(b bool) *bool { return &b }
