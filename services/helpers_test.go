package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// :memory: 每个连接是独立的库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrateAll(db))
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) on(topic string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) ofType(typ realtime.EventType) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type stubReplier struct {
	reply *Reply
	err   error
}

func (s stubReplier) GenerateReply(context.Context, ReplyRequest) (*Reply, error) {
	return s.reply, s.err
}

// nopLocker 不加锁，只靠数据库 CAS
type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

type fixture struct {
	store    *GormStore
	rooms    *RoomService
	queue    *QueueService
	chat     *ChatService
	sessions *SessionService
	pub      *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, NewLocalLocker(), NewKeywordReplier())
}

func newFixtureWith(t *testing.T, locker RoomLocker, replier ReplyGenerator) *fixture {
	t.Helper()
	store := NewGormStore(openTestDB(t))
	pub := &recordingPublisher{}
	rooms := NewRoomService(store, locker, pub, logger.Nop())
	return &fixture{
		store:    store,
		rooms:    rooms,
		queue:    NewQueueService(rooms),
		chat:     NewChatService(rooms, replier, 0),
		sessions: NewSessionService(rooms),
		pub:      pub,
	}
}

func customer(id string) Identity {
	return Identity{Authenticated: true, AccountID: id, DisplayName: "Khách " + id, Role: models.RoleClient}
}

func agent(id string) Identity {
	return Identity{Authenticated: true, AccountID: id, DisplayName: "Agent " + id, Role: models.RoleSupport}
}

func manager(id string) Identity {
	return Identity{Authenticated: true, AccountID: id, DisplayName: "Manager " + id, Role: models.RoleManager}
}

// pendingRoom 登录客户请求人工后的房间
func (f *fixture) pendingRoom(t *testing.T, customerID string) *models.Room {
	t.Helper()
	ctx := context.Background()
	room, err := f.sessions.InitAuthenticatedChat(ctx, customer(customerID))
	require.NoError(t, err)
	res, err := f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer(customerID), Content: QuickReplyHuman})
	require.NoError(t, err)
	require.True(t, res.Escalated)
	return res.Room
}

func (f *fixture) assignedRoom(t *testing.T, customerID, agentID string) *models.Room {
	t.Helper()
	room := f.pendingRoom(t, customerID)
	assigned, err := f.queue.AcceptRoom(context.Background(), room.ID, agent(agentID))
	require.NoError(t, err)
	return assigned
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
