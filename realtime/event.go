package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Breeze1203/shophub-support/models"
)

type EventType string

const (
	EventMessage      EventType = "message"
	EventRoomPending  EventType = "room_pending"
	EventRoomAssigned EventType = "room_assigned"
	EventRoomClosed   EventType = "room_closed"
)

// Event 推送给订阅者的事件
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Topic     string          `json:"topic"`
	RoomID    string          `json:"room_id"`
	Room      *models.Room    `json:"room,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameSend        FrameType = "send"
	FrameConnected   FrameType = "connected"
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
)

// Frame 长连接上传输的帧
type Frame struct {
	Type        FrameType       `json:"type"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Event       *Event          `json:"event,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// SendPayload send 帧的负载
type SendPayload struct {
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// Publisher 服务层只依赖这个接口
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
