package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
)

// fakeSource 模拟服务端历史，按 after 游标返回
type fakeSource struct {
	mu     sync.Mutex
	msgs   []models.Message
	afters []uint64
	err    error
}

func (s *fakeSource) add(m ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m...)
}

func (s *fakeSource) fetch(_ context.Context, after uint64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afters = append(s.afters, after)
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Message
	for _, m := range s.msgs {
		if m.Seq > after {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSource) calls() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.afters...)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	topic    string
	handler  Handler
	released int
}

func (s *fakeSubscriber) Subscribe(topic string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic = topic
	s.handler = h
	return func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}
}

func (s *fakeSubscriber) emit(ev *realtime.Event, err error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(ev, err)
}

func TestPollerAdvancesCursor(t *testing.T) {
	src := &fakeSource{}
	src.add(msg(1, "a", 0), msg(2, "b", time.Second))
	tl := NewTimeline(nil)
	p := NewPoller(10*time.Millisecond, src.fetch, tl, nil)

	require.NoError(t, p.Poll(context.Background()))
	src.add(msg(3, "c", 2*time.Second))
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, []uint64{0, 2}, src.calls())
	assert.Equal(t, []string{"a", "b", "c"}, ids(tl.Messages()))

	src.err = errors.New("bad gateway")
	assert.Error(t, p.Poll(context.Background()))
}

func TestPollerStartStop(t *testing.T) {
	src := &fakeSource{}
	tl := NewTimeline(nil)
	p := NewPoller(5*time.Millisecond, src.fetch, tl, nil)
	assert.False(t, p.Running())

	p.Start(context.Background())
	assert.True(t, p.Running())
	src.add(msg(1, "a", 0))
	require.Eventually(t, func() bool { return len(tl.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
	n := len(src.calls())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(src.calls()))

	// 停止后不能再启动
	p.Start(context.Background())
	assert.False(t, p.Running())
}

func TestRoomFeedMergesPushAndPoll(t *testing.T) {
	src := &fakeSource{}
	greet := msg(1, "greet", 0)
	src.add(greet)
	sub := &fakeSubscriber{}
	var changes int
	var mu sync.Mutex
	feed := NewRoomFeed(sub, "r1", time.Hour, src.fetch, func([]models.Message) {
		mu.Lock()
		changes++
		mu.Unlock()
	}, nil)

	feed.Start(context.Background())
	defer feed.Close()
	assert.Equal(t, realtime.RoomTopic("r1"), sub.topic)
	require.Eventually(t, func() bool { return len(feed.Timeline().Messages()) == 1 }, time.Second, 5*time.Millisecond)

	// 推送的消息和已拉取的重复
	sub.emit(&realtime.Event{Type: realtime.EventMessage, Message: &greet}, nil)
	reply := msg(2, "reply", time.Second)
	sub.emit(&realtime.Event{Type: realtime.EventMessage, Message: &reply}, nil)
	assert.Equal(t, []string{"greet", "reply"}, ids(feed.Timeline().Messages()))

	room := &models.Room{ID: "r1", Status: models.RoomStatusPending}
	sub.emit(&realtime.Event{Type: realtime.EventRoomPending, Room: room}, nil)
	assert.Equal(t, room, feed.Room())

	sub.emit(nil, &ConnectionError{Attempts: 5, Err: errors.New("refused")})
	assert.True(t, feed.Offline())
	mu.Lock()
	assert.GreaterOrEqual(t, changes, 2)
	mu.Unlock()
}

func TestRoomFeedStopsWhenRoomCloses(t *testing.T) {
	src := &fakeSource{}
	sub := &fakeSubscriber{}
	feed := NewRoomFeed(sub, "r1", time.Hour, src.fetch, nil, nil)
	feed.Start(context.Background())
	require.Eventually(t, func() bool { return len(src.calls()) == 1 }, time.Second, 5*time.Millisecond)

	// 结束提示只在历史里
	src.add(msg(1, "ended", 0))
	closed := &models.Room{ID: "r1", Status: models.RoomStatusClosed}
	sub.emit(&realtime.Event{Type: realtime.EventRoomClosed, Room: closed}, nil)

	select {
	case <-feed.Done():
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
	assert.Equal(t, []string{"ended"}, ids(feed.Timeline().Messages()))
	assert.Equal(t, models.RoomStatusClosed, feed.Room().Status)
	assert.False(t, feed.poller.Running())

	feed.Close()
	sub.mu.Lock()
	assert.Equal(t, 1, sub.released)
	sub.mu.Unlock()
}

func TestRoomFeedRecoversMessageMissedByPush(t *testing.T) {
	src := &fakeSource{}
	src.add(msg(1, "m1", 0))
	sub := &fakeSubscriber{}
	feed := NewRoomFeed(sub, "r1", time.Hour, src.fetch, nil, nil)
	feed.Start(context.Background())
	defer feed.Close()
	require.Eventually(t, func() bool { return feed.poller.Cursor() == 1 }, time.Second, 5*time.Millisecond)

	// m2 在推送断开期间写入，只能靠拉取补回
	src.add(msg(2, "m2", time.Second))
	m3 := msg(3, "m3", 2*time.Second)
	src.add(m3)
	sub.emit(&realtime.Event{Type: realtime.EventMessage, Message: &m3}, nil)
	assert.Equal(t, uint64(3), feed.Timeline().LastSeq())
	assert.Equal(t, uint64(1), feed.poller.Cursor(), "pushed messages must not move the poll cursor")

	require.NoError(t, feed.poller.Poll(context.Background()))
	assert.Equal(t, []uint64{0, 1}, src.calls())
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(feed.Timeline().Messages()))
	assert.Equal(t, uint64(3), feed.poller.Cursor())
}
