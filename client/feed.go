package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
)

// Subscriber Channel 满足
type Subscriber interface {
	Subscribe(topic string, handler Handler) func()
}

// RoomFeed 把房间主题的推送和定时拉取合并到同一条时间线
type RoomFeed struct {
	roomID   string
	timeline *Timeline
	poller   *Poller
	sub      Subscriber
	log      *logger.Logger

	mu          sync.Mutex
	unsubscribe func()
	offline     bool
	closed      bool
	room        *models.Room
	done        chan struct{}
}

func NewRoomFeed(sub Subscriber, roomID string, interval time.Duration, fetch FetchFunc, onChange func([]models.Message), log *logger.Logger) *RoomFeed {
	if log == nil {
		log = logger.Nop()
	}
	timeline := NewTimeline(onChange)
	return &RoomFeed{
		roomID:   roomID,
		timeline: timeline,
		poller:   NewPoller(interval, fetch, timeline, log),
		sub:      sub,
		log:      log.With("component", "RoomFeed", "room_id", roomID),
		done:     make(chan struct{}),
	}
}

func (f *RoomFeed) Timeline() *Timeline {
	return f.timeline
}

// Start 订阅房间主题并启动轮询
func (f *RoomFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.unsubscribe != nil {
		f.mu.Unlock()
		return
	}
	f.unsubscribe = f.sub.Subscribe(realtime.RoomTopic(f.roomID), f.handle)
	f.mu.Unlock()
	f.poller.Start(ctx)
}

func (f *RoomFeed) handle(ev *realtime.Event, err error) {
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			// 推送通道已放弃重连，只剩轮询
			f.mu.Lock()
			f.offline = true
			f.mu.Unlock()
			f.log.Warn("push channel failed, polling only", "error", err)
			return
		}
		f.log.Warn("room subscription error", "error", err)
		return
	}

	switch ev.Type {
	case realtime.EventMessage:
		if ev.Message != nil {
			f.timeline.Apply(*ev.Message)
		}
	case realtime.EventRoomClosed:
		f.mu.Lock()
		f.room = ev.Room
		f.mu.Unlock()
		// 关闭前补拉一次，避免漏掉结束提示
		if pollErr := f.poller.Poll(context.Background()); pollErr != nil {
			f.log.Warn("final poll failed", "error", pollErr)
		}
		go f.Close()
	case realtime.EventRoomPending, realtime.EventRoomAssigned:
		f.mu.Lock()
		f.room = ev.Room
		f.mu.Unlock()
	}
}

// Offline 推送通道是否已进入 FAILED
func (f *RoomFeed) Offline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offline
}

// Room 最近一次推送带来的房间状态
func (f *RoomFeed) Room() *models.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.room
}

// Done 房间关闭或 Close 后触发
func (f *RoomFeed) Done() <-chan struct{} {
	return f.done
}

// Close 退订并停止轮询，可重复调用
func (f *RoomFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	f.poller.Stop()
	close(f.done)
}
