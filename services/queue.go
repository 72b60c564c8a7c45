package services

import (
	"context"
	"fmt"

	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
)

// QueueService 待接入队列。队列本身不存储，由 status=PENDING 的房间推导
type QueueService struct {
	rooms *RoomService
}

func NewQueueService(rooms *RoomService) *QueueService {
	return &QueueService{rooms: rooms}
}

func (q *QueueService) ListPendingRooms(ctx context.Context) ([]models.Room, error) {
	return q.rooms.store.ListPendingRooms(ctx)
}

func (q *QueueService) ListAssignedRooms(ctx context.Context, agentID string) ([]models.Room, error) {
	return q.rooms.store.ListRoomsForAgent(ctx, agentID)
}

// AcceptRoom PENDING -> ASSIGNED。数据库 CAS 决定唯一赢家，房间锁只减少无谓竞争
func (q *QueueService) AcceptRoom(ctx context.Context, roomID string, agent Identity) (*models.Room, error) {
	if !agent.IsAgent() || agent.AccountID == "" {
		return nil, ErrAccessDenied
	}
	s := q.rooms

	unlock, err := s.locker.Lock(ctx, roomLockKey(roomID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := s.store.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := acceptConflict(room); err != nil {
		return nil, err
	}

	ts := s.clamp(room)
	agentID := agent.AccountID
	agentName := agent.DisplayName
	notice := s.newMessage(room.ID, models.SenderSystem, "", "", fmt.Sprintf(noticeAgentJoined, displayName(agent)), ts)
	ok, err := s.store.TransitionRoom(ctx, room.ID, []models.RoomStatus{models.RoomStatusPending}, RoomUpdate{
		Status:    models.RoomStatusAssigned,
		AgentID:   &agentID,
		AgentName: &agentName,
		HandledBy: &agentID,
		UpdatedAt: ts,
		Notice:    notice,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.LoadRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if err := acceptConflict(current); err != nil {
			s.log.Info("accept lost race", "room_id", roomID, "agent_id", agentID, "status", current.Status)
			return nil, err
		}
		return nil, ErrRoomNotPending
	}

	assigned, err := s.store.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.log.Info("room assigned", "room_id", roomID, "agent_id", agentID)
	// 先发分配事件，其他客服的房间订阅在系统提示之前被撤销
	s.publishRoom(ctx, realtime.EventRoomAssigned, assigned, agentID,
		realtime.TopicPendingRooms,
		realtime.TopicRoomStatus,
		realtime.RoomTopic(roomID),
		realtime.AgentQueue(agentID),
	)
	s.publishMessage(ctx, notice)
	return assigned, nil
}

// acceptConflict 房间不能被接入时的错误
func acceptConflict(room *models.Room) error {
	switch room.Status {
	case models.RoomStatusPending:
		return nil
	case models.RoomStatusAssigned:
		return ErrRoomAlreadyAssigned
	case models.RoomStatusActive, models.RoomStatusClosed:
		return ErrRoomNotPending
	}
	return ErrRoomNotPending
}

func displayName(who Identity) string {
	if who.DisplayName != "" {
		return who.DisplayName
	}
	return who.AccountID
}
