package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Breeze1203/shophub-support/models"
)

// RoomUpdate 状态迁移时要写入的字段；nil 表示不修改
type RoomUpdate struct {
	Status     models.RoomStatus
	Type       *models.RoomType
	AgentID    *string
	AgentName  *string
	ClearAgent bool
	HandledBy  *string
	Rating     *int
	Feedback   *string
	ClosedAt   *time.Time
	UpdatedAt  time.Time
	// Notice 与状态变更同一事务写入的系统消息
	Notice *models.Message
}

// Store 持久化接口，存储引擎对核心逻辑不可见
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	LoadRoom(ctx context.Context, roomID string) (*models.Room, error)
	FindOpenRoom(ctx context.Context, kind models.CustomerKind, customerID string) (*models.Room, error)
	FindLatestRoom(ctx context.Context, kind models.CustomerKind, customerID string) (*models.Room, error)
	// TransitionRoom 比较并交换：仅当当前状态属于 from 时才更新，返回是否更新成功
	TransitionRoom(ctx context.Context, roomID string, from []models.RoomStatus, update RoomUpdate) (bool, error)
	// AppendMessage 追加消息并刷新房间的 last_message；房间已关闭时返回 ErrRoomClosed
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID string, afterSeq uint64) ([]models.Message, error)
	ListPendingRooms(ctx context.Context) ([]models.Room, error)
	ListRoomsForAgent(ctx context.Context, agentID string) ([]models.Room, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Room) error {
	return s.db.WithContext(ctx).Create(room).Error
}

func (s *GormStore) LoadRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) FindOpenRoom(ctx context.Context, kind models.CustomerKind, customerID string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).
		Where("customer_kind = ? AND customer_id = ? AND status <> ?", kind, customerID, models.RoomStatusClosed).
		Order("created_at DESC").
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) FindLatestRoom(ctx context.Context, kind models.CustomerKind, customerID string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).
		Where("customer_kind = ? AND customer_id = ?", kind, customerID).
		Order("created_at DESC").
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) TransitionRoom(ctx context.Context, roomID string, from []models.RoomStatus, update RoomUpdate) (bool, error) {
	values := map[string]interface{}{
		"status":     update.Status,
		"updated_at": update.UpdatedAt,
	}
	if update.Type != nil {
		values["type"] = *update.Type
	}
	if update.AgentID != nil {
		values["agent_id"] = *update.AgentID
	}
	if update.ClearAgent {
		values["agent_id"] = gorm.Expr("NULL")
	}
	if update.AgentName != nil {
		values["agent_name"] = *update.AgentName
	}
	if update.HandledBy != nil {
		values["handled_by"] = *update.HandledBy
	}
	if update.Rating != nil {
		values["rating"] = *update.Rating
	}
	if update.Feedback != nil {
		values["feedback"] = *update.Feedback
	}
	if update.ClosedAt != nil {
		values["closed_at"] = *update.ClosedAt
	}
	if update.Notice != nil {
		values["last_message_id"] = update.Notice.ID
		values["last_message"] = update.Notice.Content
		values["last_message_at"] = update.Notice.CreatedAt
	}
	swapped := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Room{}).
			Where("id = ? AND status IN ?", roomID, from).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		swapped = true
		if update.Notice != nil {
			return tx.Create(update.Notice).Error
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	// 必须用事务，保证“检查房间未关闭”和“写入消息”一起生效
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Room{}).
			Where("id = ? AND status <> ?", msg.RoomID, models.RoomStatusClosed).
			Updates(map[string]interface{}{
				"last_message_id": msg.ID,
				"last_message":    msg.Content,
				"last_message_at": msg.CreatedAt,
				"updated_at":      msg.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Room{}).Where("id = ?", msg.RoomID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrRoomNotFound
			}
			return ErrRoomClosed
		}
		return tx.Create(msg).Error
	})
}

func (s *GormStore) ListMessages(ctx context.Context, roomID string, afterSeq uint64) ([]models.Message, error) {
	var messages []models.Message
	query := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if afterSeq > 0 {
		query = query.Where("seq > ?", afterSeq)
	}
	if err := query.Order("created_at ASC, seq ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *GormStore) ListPendingRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RoomStatusPending).
		Order("created_at ASC, id ASC").
		Find(&rooms).Error
	return rooms, err
}

func (s *GormStore) ListRoomsForAgent(ctx context.Context, agentID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Where("status = ? AND agent_id = ?", models.RoomStatusAssigned, agentID).
		Order("updated_at DESC").
		Find(&rooms).Error
	return rooms, err
}
