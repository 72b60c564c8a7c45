package models

import (
	"errors"
	"fmt"
	"time"
)

// RoomType BOT 为机器人接待，HUMAN 为人工客服通道
type RoomType string

const (
	RoomTypeBot   RoomType = "BOT"
	RoomTypeHuman RoomType = "HUMAN"
)

func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeBot, RoomTypeHuman:
		return true
	}
	return false
}

// RoomStatus ACTIVE 表示机器人处理中，尚未进入待接入队列
type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "ACTIVE"
	RoomStatusPending  RoomStatus = "PENDING"
	RoomStatusAssigned RoomStatus = "ASSIGNED"
	RoomStatusClosed   RoomStatus = "CLOSED"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusActive, RoomStatusPending, RoomStatusAssigned, RoomStatusClosed:
		return true
	}
	return false
}

// Terminal CLOSED 之后不再允许任何状态变更
func (s RoomStatus) Terminal() bool {
	return s == RoomStatusClosed
}

// CanTransition 房间状态机
func (s RoomStatus) CanTransition(to RoomStatus) bool {
	switch s {
	case RoomStatusActive:
		return to == RoomStatusPending || to == RoomStatusClosed
	case RoomStatusPending:
		return to == RoomStatusAssigned || to == RoomStatusClosed
	case RoomStatusAssigned:
		return to == RoomStatusClosed
	case RoomStatusClosed:
		return false
	}
	return false
}

var ErrInvalidRoom = errors.New("invalid room")

type Room struct {
	ID            string       `json:"id" gorm:"primaryKey;size:36"`
	Type          RoomType     `json:"room_type" gorm:"size:16;not null"`
	Status        RoomStatus   `json:"status" gorm:"size:16;not null;index"`
	CustomerKind  CustomerKind `json:"customer_kind" gorm:"size:16;not null"`
	CustomerID    string       `json:"customer_id" gorm:"size:64;not null;index"`
	CustomerName  string       `json:"customer_name,omitempty"`
	AgentID       *string      `json:"agent_id" gorm:"size:64;index"`
	AgentName     string       `json:"agent_name,omitempty"`
	HandledBy     string       `json:"handled_by,omitempty" gorm:"size:64"` // 最后接待的客服，关闭后保留
	LastMessageID string       `json:"last_message_id,omitempty" gorm:"size:36"`
	LastMessage   string       `json:"last_message,omitempty" gorm:"type:text"`
	LastMessageAt *time.Time   `json:"last_message_at,omitempty"`
	Rating        *int         `json:"rating,omitempty"`
	Feedback      string       `json:"feedback,omitempty" gorm:"type:text"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Validate 检查房间不变量：agent_id 非空当且仅当状态为 ASSIGNED
func (r *Room) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: room type %q", ErrInvalidRoom, r.Type)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRoom, r.Status)
	}
	if !r.CustomerKind.Valid() {
		return fmt.Errorf("%w: customer kind %q", ErrInvalidRoom, r.CustomerKind)
	}
	assigned := r.Status == RoomStatusAssigned
	if assigned != (r.AgentID != nil) {
		return fmt.Errorf("%w: agent_id set=%t with status %s", ErrInvalidRoom, r.AgentID != nil, r.Status)
	}
	if r.Rating != nil && (*r.Rating < 1 || *r.Rating > 5) {
		return fmt.Errorf("%w: rating %d out of range", ErrInvalidRoom, *r.Rating)
	}
	return nil
}

// Queued 是否在待接入队列中
func (r *Room) Queued() bool {
	return r.Status == RoomStatusPending
}

func (r *Room) IsGuest() bool {
	return r.CustomerKind == CustomerGuest
}

// AssignedTo 房间当前是否由该客服负责
func (r *Room) AssignedTo(agentID string) bool {
	return r.Status == RoomStatusAssigned && r.AgentID != nil && *r.AgentID == agentID
}
