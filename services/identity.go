package services

import (
	"strconv"

	"github.com/Breeze1203/shophub-support/models"
)

// Identity 身份提供方给出的事实，核心逻辑不校验凭证
type Identity struct {
	Authenticated  bool
	AccountID      string
	GuestSessionID string
	DisplayName    string
	Role           models.UserRole
}

func AccountIdentity(user *models.User) Identity {
	role := user.Role
	if role == "" {
		role = models.RoleClient
	}
	return Identity{
		Authenticated: true,
		AccountID:     strconv.FormatUint(uint64(user.ID), 10),
		DisplayName:   user.Username,
		Role:          role,
	}
}

func GuestIdentity(sessionID string) Identity {
	return Identity{GuestSessionID: sessionID}
}

func (i Identity) IsAgent() bool {
	return i.Authenticated && i.Role.IsAgent()
}

// IsManager 可以处理任意已接入房间
func (i Identity) IsManager() bool {
	return i.Authenticated && (i.Role == models.RoleManager || i.Role == models.RoleAdmin)
}

// Customer 客户身份对应的房间归属键
func (i Identity) Customer() (models.CustomerKind, string) {
	if i.Authenticated {
		return models.CustomerAccount, i.AccountID
	}
	return models.CustomerGuest, i.GuestSessionID
}

// Owns 是否是该房间的客户
func (i Identity) Owns(room *models.Room) bool {
	kind, id := i.Customer()
	return id != "" && room.CustomerKind == kind && room.CustomerID == id
}
