package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SenderType string

const (
	SenderCustomer SenderType = "CUSTOMER"
	SenderBot      SenderType = "BOT"
	SenderSupport  SenderType = "SUPPORT"
	SenderManager  SenderType = "MANAGER"
	SenderSystem   SenderType = "SYSTEM"
)

func (s SenderType) Valid() bool {
	switch s {
	case SenderCustomer, SenderBot, SenderSupport, SenderManager, SenderSystem:
		return true
	}
	return false
}

// IsAgent SUPPORT 和 MANAGER 都是人工客服
func (s SenderType) IsAgent() bool {
	return s == SenderSupport || s == SenderManager
}

// Named 客户和机器人消息不带显示名
func (s SenderType) Named() bool {
	switch s {
	case SenderSupport, SenderManager, SenderSystem:
		return true
	case SenderCustomer, SenderBot:
		return false
	}
	return false
}

// QuickReplies 以 JSON 文本存库
type QuickReplies []string

func (q QuickReplies) Value() (driver.Value, error) {
	if len(q) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(q))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *QuickReplies) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*q = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("quick replies: unsupported type %T", value)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*q = out
	return nil
}

// Message 房间内的一条消息；Seq 为插入序号，与 CreatedAt 一起决定顺序
type Message struct {
	Seq          uint64       `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID           string       `json:"id" gorm:"size:36;uniqueIndex"`
	RoomID       string       `json:"room_id" gorm:"size:36;index"`
	SenderType   SenderType   `json:"sender_type" gorm:"size:16;not null"`
	SenderID     string       `json:"sender_id,omitempty" gorm:"size:64"`
	SenderName   string       `json:"sender_name,omitempty"`
	Content      string       `json:"content" gorm:"type:text"`
	ClientMsgID  string       `json:"client_msg_id,omitempty" gorm:"size:64"`
	QuickReplies QuickReplies `json:"quick_replies,omitempty" gorm:"type:text"`
	CreatedAt    time.Time    `json:"created_at" gorm:"index"`

	// Provisional 仅客户端本地乐观回显使用，不入库
	Provisional bool `json:"-" gorm:"-"`
}

// Before 按 (CreatedAt, Seq) 排序
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.Seq < other.Seq
}
