package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Breeze1203/shophub-support/models"
)

const DefaultMaxMessageRunes = 2000

type SendRequest struct {
	RoomID      string
	Sender      Identity
	Content     string
	ClientMsgID string
}

type SendResult struct {
	Message       *models.Message `json:"message"`
	Reply         *models.Message `json:"reply,omitempty"`
	QuickReplies  []string        `json:"quick_replies,omitempty"`
	RequiresLogin bool            `json:"requires_login"`
	Escalated     bool            `json:"escalated"`
	Degraded      bool            `json:"degraded,omitempty"`
	Room          *models.Room    `json:"room"`
}

// ChatService 消息管道：追加消息，按房间状态决定是否由机器人回复
type ChatService struct {
	rooms    *RoomService
	replier  ReplyGenerator
	maxRunes int
}

func NewChatService(rooms *RoomService, replier ReplyGenerator, maxRunes int) *ChatService {
	if replier == nil {
		replier = NewKeywordReplier()
	}
	if maxRunes <= 0 {
		maxRunes = DefaultMaxMessageRunes
	}
	return &ChatService{rooms: rooms, replier: replier, maxRunes: maxRunes}
}

func (c *ChatService) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}
	if utf8.RuneCountInString(content) > c.maxRunes {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, c.maxRunes)
	}

	s := c.rooms
	unlock, err := s.locker.Lock(ctx, roomLockKey(req.RoomID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.store.LoadRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	sender, err := senderFor(room, req.Sender)
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(room.ID, sender, req.Sender.AccountID, req.Sender.DisplayName, content, s.timestamp())
	msg.ClientMsgID = req.ClientMsgID
	if err := s.appendLocked(ctx, room, msg); err != nil {
		return nil, err
	}
	result := &SendResult{Message: msg, Room: room}

	switch room.Status {
	case models.RoomStatusActive:
		if err := c.botTurn(ctx, room, req.Sender, content, result); err != nil {
			return nil, err
		}
	case models.RoomStatusPending, models.RoomStatusAssigned:
		// 已转人工，机器人不再参与
	case models.RoomStatusClosed:
		return nil, ErrRoomClosed
	}
	return result, nil
}

// botTurn 生成机器人回复；回复服务不可用时发送致歉消息，不算失败
func (c *ChatService) botTurn(ctx context.Context, room *models.Room, who Identity, text string, result *SendResult) error {
	s := c.rooms
	reply, err := c.replier.GenerateReply(ctx, ReplyRequest{
		RoomID:        room.ID,
		Text:          text,
		Authenticated: who.Authenticated,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("reply generator failed", "room_id", room.ID, "error", err)
		reply = &Reply{Text: ApologyText, QuickReplies: []string{QuickReplyHuman}}
		result.Degraded = true
	}

	bot := s.newMessage(room.ID, models.SenderBot, "", "", reply.Text, s.timestamp())
	bot.QuickReplies = reply.QuickReplies
	if err := s.appendLocked(ctx, room, bot); err != nil {
		return err
	}
	result.Reply = bot
	result.QuickReplies = reply.QuickReplies
	result.RequiresLogin = reply.RequiresLogin

	if !reply.Escalate {
		return nil
	}
	escalated, err := s.escalateLocked(ctx, room, who)
	switch {
	case errors.Is(err, ErrLoginRequired):
		result.RequiresLogin = true
		return nil
	case err != nil:
		return err
	}
	result.Escalated = escalated.Status == models.RoomStatusPending
	result.Room = escalated
	return nil
}

// SendGuestMessage 游客凭会话令牌发消息
func (c *ChatService) SendGuestMessage(ctx context.Context, sessionID, content, clientMsgID string) (*SendResult, error) {
	room, err := c.guestRoom(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return c.SendMessage(ctx, SendRequest{
		RoomID:      room.ID,
		Sender:      GuestIdentity(sessionID),
		Content:     content,
		ClientMsgID: clientMsgID,
	})
}

// GetMessages 权威历史，afterSeq>0 时只返回之后的消息
func (c *ChatService) GetMessages(ctx context.Context, roomID string, who Identity, afterSeq uint64) ([]models.Message, error) {
	if _, err := c.rooms.GetRoomFor(ctx, roomID, who); err != nil {
		return nil, err
	}
	return c.rooms.store.ListMessages(ctx, roomID, afterSeq)
}

// GetGuestMessages 游客房间关闭后仍可读取最后一次会话的历史
func (c *ChatService) GetGuestMessages(ctx context.Context, sessionID string, afterSeq uint64) (*models.Room, []models.Message, error) {
	room, err := c.guestRoom(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := c.rooms.store.ListMessages(ctx, room.ID, afterSeq)
	if err != nil {
		return nil, nil, err
	}
	return room, msgs, nil
}

// GuestRoom 会话令牌对应的最近一个房间
func (c *ChatService) GuestRoom(ctx context.Context, sessionID string) (*models.Room, error) {
	return c.guestRoom(ctx, sessionID)
}

func (c *ChatService) guestRoom(ctx context.Context, sessionID string) (*models.Room, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	room, err := c.rooms.store.FindLatestRoom(ctx, models.CustomerGuest, sessionID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return room, nil
}

// senderFor 发送者类型由身份决定，不信任客户端传入
func senderFor(room *models.Room, who Identity) (models.SenderType, error) {
	if who.Owns(room) {
		if room.Status == models.RoomStatusClosed {
			return "", ErrRoomClosed
		}
		return models.SenderCustomer, nil
	}
	if !who.IsAgent() {
		return "", ErrAccessDenied
	}
	switch room.Status {
	case models.RoomStatusClosed:
		return "", ErrRoomClosed
	case models.RoomStatusAssigned:
		if room.AssignedTo(who.AccountID) || who.IsManager() {
			return who.Role.SenderType(), nil
		}
		return "", ErrAccessDenied
	case models.RoomStatusActive, models.RoomStatusPending:
		return "", ErrRoomNotAssigned
	}
	return "", ErrAccessDenied
}
