package realtime

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Breeze1203/shophub-support/logger"
)

// outboundBuffer 每个连接的发送队列长度
const outboundBuffer = 256

// Client 一个长连接订阅者
type Client struct {
	ID       string
	UserID   string // 登录用户 ID，访客为空
	Outbound chan Frame

	topics    map[string]bool
	done      chan struct{}
	closeOnce sync.Once
}

// Done 连接被 hub 关闭时触发（例如发送队列满）
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub 主题订阅注册表：topic -> clients
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "Hub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient(userID string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		Outbound: make(chan Frame, outboundBuffer),
		topics:   make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Subscribe 同一个 client 重复订阅同一主题只记一次
func (h *Hub) Subscribe(c *Client, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	// 已被 CloseClient 移除的连接不能再登记
	select {
	case <-c.done:
		return
	default:
	}
	c.topics[topic] = true
	clients, ok := h.subscriptions[topic]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[topic] = clients
	}
	clients[c] = true
	h.log.Debug("client subscribed", "clientID", c.ID, "topic", topic)
}

// Unsubscribe 只移除该 client 的登记，不影响同主题其他订阅者
func (h *Hub) Unsubscribe(c *Client, topic string) {
	topic = strings.TrimSpace(topic)
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.topics, topic)
	if clients, ok := h.subscriptions[topic]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subscriptions, topic)
		}
	}
	h.log.Debug("client unsubscribed", "clientID", c.ID, "topic", topic)
}

// Subscribers 当前主题的订阅数
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[topic])
}

// Broadcast 按事件主题分发；发送队列满的连接会被断开，由客户端重连后拉取补齐
func (h *Hub) Broadcast(ev Event) {
	if ev.Topic == "" {
		return
	}
	frame := Frame{Type: FrameEvent, Topic: ev.Topic, Event: &ev}

	var slow []*Client
	h.mu.RLock()
	for c := range h.subscriptions[ev.Topic] {
		select {
		case c.Outbound <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("client send buffer full, disconnecting", "clientID", c.ID, "topic", ev.Topic)
		h.CloseClient(c)
	}
}

// CloseClient 移除全部订阅并关闭连接信号；可重复调用
func (h *Hub) CloseClient(c *Client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		for topic := range c.topics {
			if clients, ok := h.subscriptions[topic]; ok {
				delete(clients, c)
				if len(clients) == 0 {
					delete(h.subscriptions, topic)
				}
			}
		}
		c.topics = make(map[string]bool)
		close(c.done)
		h.mu.Unlock()
	})
}

// Revoke 移除主题上 keep 返回 false 的订阅者，并给它们发一个错误帧；返回移除数量
func (h *Hub) Revoke(topic string, keep func(*Client) bool, reason string) int {
	var revoked []*Client
	h.mu.Lock()
	for c := range h.subscriptions[topic] {
		if keep(c) {
			continue
		}
		delete(h.subscriptions[topic], c)
		delete(c.topics, topic)
		revoked = append(revoked, c)
	}
	if len(h.subscriptions[topic]) == 0 {
		delete(h.subscriptions, topic)
	}
	h.mu.Unlock()

	frame := Frame{Type: FrameError, Topic: topic, Message: reason}
	for _, c := range revoked {
		h.log.Info("subscription revoked", "clientID", c.ID, "topic", topic)
		select {
		case c.Outbound <- frame:
		default:
			h.CloseClient(c)
		}
	}
	return len(revoked)
}
