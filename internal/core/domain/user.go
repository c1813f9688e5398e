package domain

import "time"

type User struct {
	ID        UserID
	Username  string
	Email     string
	CreatedAt time.Time
}

type UserRole string

const (
	RoleOwner     UserRole = "owner"
	RoleMember    UserRole = "member"
	RoleModerator UserRole = "moderator"
)

// ChannelPermission grants a user a role within a channel. Persistence and
// authorship of these records lives with the out-of-scope relational store;
// the SFU only ever reads the effective role at join time.
type ChannelPermission struct {
	ChannelID ChannelID
	UserID    UserID
	Role      UserRole
	GrantedAt time.Time
}
