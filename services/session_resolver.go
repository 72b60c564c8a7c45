package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Breeze1203/shophub-support/models"
)

// SessionService 创建或恢复客户的房间，同一客户的查找与创建串行执行
type SessionService struct {
	rooms *RoomService
}

func NewSessionService(rooms *RoomService) *SessionService {
	return &SessionService{rooms: rooms}
}

// InitGuestSession 已有未关闭房间的会话直接恢复，否则签发新的会话令牌
func (s *SessionService) InitGuestSession(ctx context.Context, sessionID string) (*models.GuestSession, error) {
	if sessionID != "" {
		session, err := s.resumeGuest(ctx, sessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return nil, err
		}
	}

	sessionID = uuid.NewString()
	unlock, err := s.rooms.locker.Lock(ctx, customerLockKey(string(models.CustomerGuest), sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, greeting, err := s.createRoom(ctx, models.CustomerGuest, sessionID, "")
	if err != nil {
		return nil, err
	}
	return &models.GuestSession{
		SessionID:    sessionID,
		Room:         room,
		Greeting:     greeting,
		QuickReplies: greeting.QuickReplies,
		Messages:     []models.Message{*greeting},
	}, nil
}

func (s *SessionService) resumeGuest(ctx context.Context, sessionID string) (*models.GuestSession, error) {
	unlock, err := s.rooms.locker.Lock(ctx, customerLockKey(string(models.CustomerGuest), sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.rooms.store.FindOpenRoom(ctx, models.CustomerGuest, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.rooms.store.ListMessages(ctx, room.ID, 0)
	if err != nil {
		return nil, err
	}
	session := &models.GuestSession{
		SessionID: sessionID,
		Room:      room,
		Messages:  msgs,
		Resumed:   true,
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderType == models.SenderBot {
			greeting := msgs[i]
			session.Greeting = &greeting
			session.QuickReplies = greeting.QuickReplies
			break
		}
	}
	if session.QuickReplies == nil && room.Status == models.RoomStatusActive {
		session.QuickReplies = DefaultQuickReplies
	}
	return session, nil
}

// InitAuthenticatedChat 返回账号最近的未关闭房间，没有则新建
func (s *SessionService) InitAuthenticatedChat(ctx context.Context, who Identity) (*models.Room, error) {
	if !who.Authenticated || who.AccountID == "" {
		return nil, ErrLoginRequired
	}
	unlock, err := s.rooms.locker.Lock(ctx, customerLockKey(string(models.CustomerAccount), who.AccountID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.rooms.store.FindOpenRoom(ctx, models.CustomerAccount, who.AccountID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}
	room, _, err = s.createRoom(ctx, models.CustomerAccount, who.AccountID, who.DisplayName)
	return room, err
}

func (s *SessionService) createRoom(ctx context.Context, kind models.CustomerKind, customerID, customerName string) (*models.Room, *models.Message, error) {
	r := s.rooms
	ts := r.timestamp()
	room := &models.Room{
		ID:           uuid.NewString(),
		Type:         models.RoomTypeBot,
		Status:       models.RoomStatusActive,
		CustomerKind: kind,
		CustomerID:   customerID,
		CustomerName: customerName,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := room.Validate(); err != nil {
		return nil, nil, err
	}
	if err := r.store.CreateRoom(ctx, room); err != nil {
		return nil, nil, err
	}

	greeting := r.newMessage(room.ID, models.SenderBot, "", "", WelcomeText, ts)
	greeting.QuickReplies = append(models.QuickReplies(nil), DefaultQuickReplies...)
	if err := r.appendLocked(ctx, room, greeting); err != nil {
		return nil, nil, err
	}
	r.log.Info("room created", "room_id", room.ID, "customer_kind", kind)
	return room, greeting, nil
}
