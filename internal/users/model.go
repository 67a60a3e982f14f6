package users

import (
	"strings"
	"time"
)

// User is a registered account. Usernames double as display names and are unique
// regardless of case.
type User struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:64;not null"`
	Username     string    `gorm:"column:username;size:64;not null;uniqueIndex:idx_users_username_nocase,collate:NOCASE"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

// UpdateRequest carries optional profile changes; nil fields are left untouched.
type UpdateRequest struct {
	Username *string
	Password *string
}
