package models

import "time"

type UserRole string

const (
	RoleClient  UserRole = "client"
	RoleSupport UserRole = "support"
	RoleManager UserRole = "manager"
	RoleAdmin   UserRole = "admin"
)

// IsAgent 能在客服台接入会话的角色
func (r UserRole) IsAgent() bool {
	switch r {
	case RoleSupport, RoleManager, RoleAdmin:
		return true
	case RoleClient:
		return false
	}
	return false
}

// SenderType 客服发消息时使用的发送方类型
func (r UserRole) SenderType() SenderType {
	switch r {
	case RoleManager, RoleAdmin:
		return SenderManager
	case RoleSupport:
		return SenderSupport
	case RoleClient:
		return SenderCustomer
	}
	return SenderCustomer
}

type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Username  string    `json:"username" gorm:"uniqueIndex"`
	Role      UserRole  `json:"role" gorm:"size:16;default:client"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}
