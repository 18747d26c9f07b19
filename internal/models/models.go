package models

import "time"

type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// SiteAdmin marks a user as a site-wide administrator.
type SiteAdmin struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Server struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	OwnerID   int64     `gorm:"index;not null" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserServer is a server membership.
type UserServer struct {
	UserID   int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ServerID int64     `gorm:"primaryKey;autoIncrement:false;index" json:"server_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

type Channel struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	ServerID  int64     `gorm:"index;not null" json:"server_id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a channel message. Deleted messages keep their row and carry
// DeletedAt/DeletedBy.
type Message struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	ChannelID int64      `gorm:"index;not null" json:"channel_id"`
	UserID    int64      `gorm:"index;not null" json:"user_id"`
	Content   string     `gorm:"not null" json:"content"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *int64     `json:"deleted_by,omitempty"`
}

func (m *Message) IsDeleted() bool { return m.DeletedAt != nil }

type DirectMessage struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	SenderID   int64     `gorm:"index;not null" json:"sender_id"`
	ReceiverID int64     `gorm:"index;not null" json:"receiver_id"`
	Content    string    `gorm:"not null" json:"content"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

type ServerInvite struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ServerID   int64     `gorm:"uniqueIndex:idx_invite_server_receiver;not null" json:"server_id"`
	ReceiverID int64     `gorm:"uniqueIndex:idx_invite_server_receiver;index;not null" json:"receiver_id"`
	SenderID   int64     `gorm:"not null" json:"sender_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type FriendRequest struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	SenderID   int64     `gorm:"uniqueIndex:idx_friend_request_pair;not null" json:"sender_id"`
	ReceiverID int64     `gorm:"uniqueIndex:idx_friend_request_pair;index;not null" json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserFriend is stored once per friendship, sender first.
type UserFriend struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	FriendID  int64     `gorm:"primaryKey;autoIncrement:false;index" json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}
