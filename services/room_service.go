package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
)

const (
	noticeAgentJoined = "Nhân viên %s đã tham gia cuộc trò chuyện."
	noticeClosed      = "Cuộc trò chuyện đã kết thúc."
)

// CloseRequest 评分只对登录客户的房间生效
type CloseRequest struct {
	Rating   *int   `json:"rating" validate:"omitempty,min=1,max=5"`
	Feedback string `json:"feedback" validate:"max=1000"`
}

// RoomService 房间生命周期：所有状态变更都在房间锁内完成，并用 CAS 写库
type RoomService struct {
	store     Store
	locker    RoomLocker
	publisher realtime.Publisher
	log       *logger.Logger
	now       func() time.Time
}

func NewRoomService(store Store, locker RoomLocker, publisher realtime.Publisher, log *logger.Logger) *RoomService {
	if log == nil {
		log = logger.Nop()
	}
	return &RoomService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		log:       log.With("component", "room_service"),
		now:       time.Now,
	}
}

// SetClock 测试用
func (s *RoomService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return s.store.LoadRoom(ctx, roomID)
}

// GetRoomFor 读取房间并校验访问权限
func (s *RoomService) GetRoomFor(ctx context.Context, roomID string, who Identity) (*models.Room, error) {
	room, err := s.store.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !canRead(room, who) {
		return nil, ErrAccessDenied
	}
	return room, nil
}

// Escalate ACTIVE -> PENDING，仅限登录客户
func (s *RoomService) Escalate(ctx context.Context, roomID string, who Identity) (*models.Room, error) {
	unlock, err := s.locker.Lock(ctx, roomLockKey(roomID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.store.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !who.Owns(room) {
		return nil, ErrAccessDenied
	}
	return s.escalateLocked(ctx, room, who)
}

// escalateLocked 调用方必须已持有房间锁
func (s *RoomService) escalateLocked(ctx context.Context, room *models.Room, who Identity) (*models.Room, error) {
	switch room.Status {
	case models.RoomStatusClosed:
		return nil, ErrRoomClosed
	case models.RoomStatusPending, models.RoomStatusAssigned:
		return room, nil
	case models.RoomStatusActive:
	default:
		return nil, fmt.Errorf("%w: status %q", models.ErrInvalidRoom, room.Status)
	}
	if !who.Authenticated {
		return nil, ErrLoginRequired
	}

	human := models.RoomTypeHuman
	ok, err := s.store.TransitionRoom(ctx, room.ID, []models.RoomStatus{models.RoomStatusActive}, RoomUpdate{
		Status:    models.RoomStatusPending,
		Type:      &human,
		UpdatedAt: s.timestamp(),
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.store.LoadRoom(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if updated.Status == models.RoomStatusClosed {
			return nil, ErrRoomClosed
		}
		return updated, nil
	}

	s.log.Info("room escalated", "room_id", room.ID, "customer_id", room.CustomerID)
	s.publishRoom(ctx, realtime.EventRoomPending, updated, "", realtime.TopicPendingRooms, realtime.TopicRoomStatus)
	return updated, nil
}

// CloseRoom 客户可以关闭自己任意未关闭的房间；客服只能关闭自己接待的房间，主管可关闭任意已接入房间
func (s *RoomService) CloseRoom(ctx context.Context, roomID string, who Identity, req CloseRequest) (*models.Room, error) {
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	unlock, err := s.locker.Lock(ctx, roomLockKey(roomID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.store.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == models.RoomStatusClosed {
		return nil, ErrRoomClosed
	}
	if err := authorizeClose(room, who); err != nil {
		return nil, err
	}

	// 锁只在本实例内有效，CAS 失败时按最新状态再试一次
	for attempt := 0; attempt < 2; attempt++ {
		from := room.Status
		update := s.closeUpdate(room, req)
		ok, err := s.store.TransitionRoom(ctx, room.ID, []models.RoomStatus{from}, update)
		if err != nil {
			return nil, err
		}
		if ok {
			closed, err := s.store.LoadRoom(ctx, room.ID)
			if err != nil {
				return nil, err
			}
			s.log.Info("room closed", "room_id", room.ID, "from", from, "by", who.AccountID)
			s.publishMessage(ctx, update.Notice)
			topics := []string{realtime.RoomTopic(room.ID), realtime.TopicRoomStatus}
			if from == models.RoomStatusPending {
				topics = append(topics, realtime.TopicPendingRooms)
			}
			s.publishRoom(ctx, realtime.EventRoomClosed, closed, closed.HandledBy, topics...)
			return closed, nil
		}

		room, err = s.store.LoadRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		switch room.Status {
		case models.RoomStatusClosed:
			return nil, ErrRoomClosed
		case models.RoomStatusAssigned:
			if from == models.RoomStatusPending {
				return nil, ErrRoomAlreadyAssigned
			}
		case models.RoomStatusActive, models.RoomStatusPending:
		}
		if err := authorizeClose(room, who); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("close room %s: status kept changing", roomID)
}

func (s *RoomService) closeUpdate(room *models.Room, req CloseRequest) RoomUpdate {
	ts := s.clamp(room)
	update := RoomUpdate{
		Status:     models.RoomStatusClosed,
		ClearAgent: true,
		ClosedAt:   &ts,
		UpdatedAt:  ts,
		Notice:     s.newMessage(room.ID, models.SenderSystem, "", "", noticeClosed, ts),
	}
	if room.AgentID != nil {
		handledBy := *room.AgentID
		update.HandledBy = &handledBy
	}
	// 游客没有可关联的身份，不保存评价
	if !room.IsGuest() {
		if req.Rating != nil {
			rating := *req.Rating
			update.Rating = &rating
		}
		if fb := strings.TrimSpace(req.Feedback); fb != "" {
			update.Feedback = &fb
		}
	}
	return update
}

func authorizeClose(room *models.Room, who Identity) error {
	if who.Owns(room) {
		return nil
	}
	if !who.IsAgent() {
		return ErrAccessDenied
	}
	switch room.Status {
	case models.RoomStatusAssigned:
		if room.AssignedTo(who.AccountID) || who.IsManager() {
			return nil
		}
		return ErrAccessDenied
	case models.RoomStatusActive, models.RoomStatusPending:
		return ErrRoomNotAssigned
	case models.RoomStatusClosed:
		return ErrRoomClosed
	}
	return ErrAccessDenied
}

// canRead 客户读自己的房间；客服读待接入房间和自己接待的房间；主管读全部
// CanRead 与 GetRoomFor 相同的读权限，用于按房间快照复核订阅
func CanRead(room *models.Room, who Identity) bool {
	return canRead(room, who)
}

func canRead(room *models.Room, who Identity) bool {
	if who.Owns(room) {
		return true
	}
	if !who.IsAgent() {
		return false
	}
	if who.IsManager() {
		return true
	}
	switch room.Status {
	case models.RoomStatusPending:
		return true
	case models.RoomStatusAssigned:
		return room.AssignedTo(who.AccountID)
	case models.RoomStatusClosed:
		return room.HandledBy == who.AccountID
	case models.RoomStatusActive:
		return false
	}
	return false
}

// appendLocked 追加消息并推送；调用方必须已持有房间锁
func (s *RoomService) appendLocked(ctx context.Context, room *models.Room, msg *models.Message) error {
	msg.CreatedAt = s.clamp(room)
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	at := msg.CreatedAt
	room.LastMessageID = msg.ID
	room.LastMessage = msg.Content
	room.LastMessageAt = &at
	room.UpdatedAt = at
	s.publishMessage(ctx, msg)
	return nil
}

func (s *RoomService) newMessage(roomID string, sender models.SenderType, senderID, senderName, content string, at time.Time) *models.Message {
	msg := &models.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderType: sender,
		SenderID:   senderID,
		Content:    content,
		CreatedAt:  at,
	}
	if sender.Named() {
		msg.SenderName = senderName
	}
	return msg
}

// clamp 同一房间内消息时间单调不减
func (s *RoomService) clamp(room *models.Room) time.Time {
	ts := s.timestamp()
	if room.LastMessageAt != nil && ts.Before(*room.LastMessageAt) {
		return room.LastMessageAt.UTC()
	}
	return ts
}

// timestamp 截断到微秒，和数据库精度一致
func (s *RoomService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *RoomService) publishMessage(ctx context.Context, msg *models.Message) {
	s.publish(ctx, realtime.Event{
		Type:      realtime.EventMessage,
		Topic:     realtime.RoomTopic(msg.RoomID),
		RoomID:    msg.RoomID,
		Message:   msg,
		CreatedAt: msg.CreatedAt,
	})
}

func (s *RoomService) publishRoom(ctx context.Context, typ realtime.EventType, room *models.Room, agentID string, topics ...string) {
	for _, topic := range topics {
		s.publish(ctx, realtime.Event{
			Type:      typ,
			Topic:     topic,
			RoomID:    room.ID,
			Room:      room,
			AgentID:   agentID,
			CreatedAt: room.UpdatedAt,
		})
	}
}

// publish 推送失败不影响已提交的状态，客户端靠轮询补齐
func (s *RoomService) publish(ctx context.Context, ev realtime.Event) {
	if s.publisher == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if err := s.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("publish event failed", "type", ev.Type, "topic", ev.Topic, "room_id", ev.RoomID, "error", err)
	}
}
