package realtime

import "strings"

const (
	// TopicPendingRooms 待接入队列变化，所有客服订阅
	TopicPendingRooms = "/topic/pending-rooms"
	// TopicRoomStatus 接入、关闭等房间状态事件
	TopicRoomStatus = "/topic/room-status"

	roomTopicPrefix = "/topic/rooms/"
	userQueuePrefix = "/user/"
	userQueueSuffix = "/queue/assignments"
	sendDestPrefix  = "/app/rooms/"
	sendDestSuffix  = "/send"
)

// RoomTopic 单个房间的消息主题
func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

// AgentQueue 客服个人队列，接收直接分配通知
func AgentQueue(agentID string) string {
	return userQueuePrefix + agentID + userQueueSuffix
}

// SendDestination 通过长连接发消息的目的地
func SendDestination(roomID string) string {
	return sendDestPrefix + roomID + sendDestSuffix
}

func ParseRoomTopic(topic string) (string, bool) {
	return between(topic, roomTopicPrefix, "")
}

func ParseAgentQueue(topic string) (string, bool) {
	return between(topic, userQueuePrefix, userQueueSuffix)
}

func ParseSendDestination(dest string) (string, bool) {
	return between(dest, sendDestPrefix, sendDestSuffix)
}

func between(s, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(s, prefix), suffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
