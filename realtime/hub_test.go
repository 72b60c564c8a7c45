package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Breeze1203/shophub-support/logger"
)

func recvFrame(t *testing.T, ch <-chan Frame, timeout time.Duration) Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for frame")
	}
	return Frame{}
}

func TestHubBroadcastOrderingPerTopic(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient("u1")
	topic := RoomTopic("r1")
	hub.Subscribe(c, topic)

	hub.Broadcast(Event{ID: "1", Type: EventMessage, Topic: topic})
	hub.Broadcast(Event{ID: "2", Type: EventMessage, Topic: topic})
	hub.Broadcast(Event{ID: "x", Type: EventMessage, Topic: RoomTopic("other")})

	assert.Equal(t, "1", recvFrame(t, c.Outbound, time.Second).Event.ID)
	assert.Equal(t, "2", recvFrame(t, c.Outbound, time.Second).Event.ID)
	select {
	case f := <-c.Outbound:
		t.Fatalf("unexpected frame for other topic: %+v", f)
	default:
	}
}

func TestHubUnsubscribeKeepsOtherSubscribers(t *testing.T) {
	hub := NewHub(logger.Nop())
	a := hub.NewClient("a")
	b := hub.NewClient("b")
	hub.Subscribe(a, TopicPendingRooms)
	hub.Subscribe(b, TopicPendingRooms)
	hub.Subscribe(a, TopicPendingRooms)
	require.Equal(t, 2, hub.Subscribers(TopicPendingRooms))

	hub.Unsubscribe(a, TopicPendingRooms)
	assert.Equal(t, 1, hub.Subscribers(TopicPendingRooms))

	hub.Broadcast(Event{ID: "e", Type: EventRoomPending, Topic: TopicPendingRooms})
	assert.Equal(t, "e", recvFrame(t, b.Outbound, time.Second).Event.ID)
	assert.Len(t, a.Outbound, 0)
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient("slow")
	hub.Subscribe(c, TopicRoomStatus)
	for i := 0; i < outboundBuffer+1; i++ {
		hub.Broadcast(Event{Type: EventRoomClosed, Topic: TopicRoomStatus})
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("slow client was not closed")
	}
	assert.Equal(t, 0, hub.Subscribers(TopicRoomStatus))
	hub.CloseClient(c)
}

func TestLocalBusDeliversSynchronously(t *testing.T) {
	bus := NewLocalBus()
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrBusNotStarted)

	var got []string
	require.NoError(t, bus.Start(context.Background(), func(ev Event) { got = append(got, ev.ID) }))
	require.NoError(t, bus.Publish(context.Background(), Event{ID: "a"}))
	require.NoError(t, bus.Publish(context.Background(), Event{ID: "b"}))
	assert.Equal(t, []string{"a", "b"}, got)
	require.NoError(t, bus.Close())
}

func TestTopicParsing(t *testing.T) {
	id, ok := ParseRoomTopic(RoomTopic("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	id, ok = ParseAgentQueue(AgentQueue("42"))
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	id, ok = ParseSendDestination(SendDestination("r9"))
	assert.True(t, ok)
	assert.Equal(t, "r9", id)

	_, ok = ParseRoomTopic("/topic/rooms/")
	assert.False(t, ok)
	_, ok = ParseRoomTopic("/topic/rooms/a/b")
	assert.False(t, ok)
	_, ok = ParseAgentQueue(TopicPendingRooms)
	assert.False(t, ok)
}

func TestHubSubscribeAfterCloseIsIgnored(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient("u1")
	hub.Subscribe(c, TopicRoomStatus)
	hub.CloseClient(c)
	require.Equal(t, 0, hub.Subscribers(TopicRoomStatus))

	// 读循环退出前还可能读到订阅帧
	hub.Subscribe(c, RoomTopic("r1"))
	hub.CloseClient(c)
	assert.Equal(t, 0, hub.Subscribers(RoomTopic("r1")))
	hub.mu.RLock()
	assert.Empty(t, hub.subscriptions)
	hub.mu.RUnlock()
}

func TestHubRevokeDropsOnlyRejectedClients(t *testing.T) {
	hub := NewHub(logger.Nop())
	keep := hub.NewClient("21")
	drop := hub.NewClient("22")
	topic := RoomTopic("r1")
	hub.Subscribe(keep, topic)
	hub.Subscribe(drop, topic)
	hub.Subscribe(drop, TopicPendingRooms)

	n := hub.Revoke(topic, func(c *Client) bool { return c.UserID == "21" }, "access denied")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, hub.Subscribers(topic))
	assert.Equal(t, 1, hub.Subscribers(TopicPendingRooms))

	f := recvFrame(t, drop.Outbound, time.Second)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, topic, f.Topic)

	hub.Broadcast(Event{ID: "m", Type: EventMessage, Topic: topic})
	assert.Equal(t, "m", recvFrame(t, keep.Outbound, time.Second).Event.ID)
	assert.Len(t, drop.Outbound, 0)

	assert.Zero(t, hub.Revoke(RoomTopic("none"), func(*Client) bool { return false }, "x"))
}
